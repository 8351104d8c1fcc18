package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 交易状态与分类常量
// ============================================================================

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// ValidStatusTransitions 允许的状态流转
// PENDING 是唯一的非终态；COMPLETED / FAILED 是终态，永不回退
var ValidStatusTransitions = map[string][]string{
	TransactionStatusPending: {TransactionStatusCompleted, TransactionStatusFailed},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

const (
	TransactionCategoryTransfer = "TRANSFER" // P2P 转账
	TransactionCategoryPayment  = "PAYMENT"  // 支付（预留）
	TransactionCategoryRefund   = "REFUND"   // 退款（预留）
)

// ============================================================================
// 交易实体
// ============================================================================

// Transaction 交易表
// 记录每一笔转账，是对账和审计的核心依据
//
// 【重要】交易表设计原则：
// 1. 只追加，不修改，不删除 —— 金额和创建时间在创建后永不变化
// 2. 每笔交易关联两个不同的账户（from != to）
// 3. 状态只允许 PENDING -> COMPLETED / PENDING -> FAILED
type Transaction struct {
	ID            string          `gorm:"type:char(36);primaryKey" json:"id"`                      // UUID
	TransferNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"` // 转账单号（全局唯一，展示用）
	FromAccountID string          `gorm:"type:char(36);index;not null" json:"from_account_id"`     // 付款账户
	ToAccountID   string          `gorm:"type:char(36);index;not null" json:"to_account_id"`       // 收款账户
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`               // 金额（两位小数，恒为正）
	Memo          string          `gorm:"type:varchar(255)" json:"memo"`                           // 备注（可选）
	Status        string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Category      string          `gorm:"type:varchar(20);not null" json:"category"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transaction"
}
