package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account 用户账户表
// 记录每个注册用户的余额，是整个转账系统的核心数据
//
// 【重要】余额约束：
// 1. balance 永远 >= 0，由转账引擎的条件更新保证
// 2. 余额只能通过转账引擎的原子事务修改（或注册时初始化）
// 3. 账户永不删除 —— 删除会破坏历史交易的外键引用
type Account struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`                  // UUID
	Email          string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"` // 登录邮箱，统一小写存储
	FullName       string          `gorm:"type:varchar(128)" json:"full_name"`                  // 显示名（可选）
	HashedPassword string          `gorm:"type:varchar(128);not null" json:"-"`                 // bcrypt 哈希，永不返回给客户端
	Balance        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"balance"`          // 可用余额（两位小数）
	Version        int             `gorm:"not null;default:0" json:"-"`                         // 乐观锁版本号
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
