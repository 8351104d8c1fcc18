package repository

import (
	"context"
	"errors"

	"peerpay/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound      = errors.New("交易不存在")
	ErrTransactionStatusInvalid = errors.New("交易状态流转不合法")
)

// 交易方向过滤
const (
	DirectionSent     = "sent"     // 仅付款
	DirectionReceived = "received" // 仅收款
	DirectionAll      = "all"      // 全部
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateStatus 按状态机更新交易状态
// 先校验流转是否合法，再以 fromStatus 为条件更新，防止并发下重复流转
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrTransactionStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTransactionStatusInvalid
	}

	return nil
}

// ListByAccount 分页查询账户相关交易
// 按创建时间倒序，同一时刻的交易按 ID 倒序保证全序，分页结果不重不漏
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID, direction string, limit, offset int) ([]*model.Transaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.Transaction{})

	switch direction {
	case DirectionSent:
		query = query.Where("from_account_id = ?", accountID)
	case DirectionReceived:
		query = query.Where("to_account_id = ?", accountID)
	default:
		query = query.Where("from_account_id = ? OR to_account_id = ?", accountID, accountID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var transactions []*model.Transaction
	err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&transactions).Error

	return transactions, total, err
}
