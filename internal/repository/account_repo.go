package repository

import (
	"context"
	"errors"
	"strings"

	"peerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrEmailTaken       = errors.New("邮箱已被注册")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *model.Account) error {
	account.Email = strings.ToLower(account.Email)
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil && isDuplicateKeyErr(err) {
		return ErrEmailTaken
	}
	return err
}

// isDuplicateKeyErr 识别唯一索引冲突（MySQL 报 Duplicate entry，SQLite 报 UNIQUE constraint）
func isDuplicateKeyErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDTx 在指定事务内查询账户
// 转账引擎在原子事务内重读付款方余额和版本号，防止事务外预检查的读过期
func (r *AccountRepository) GetByIDTx(ctx context.Context, tx *gorm.DB, id string) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByEmail 按邮箱查询账户（大小写不敏感的精确匹配）
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(email)).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByIDs 批量查询账户，用于交易列表回填对方邮箱
func (r *AccountRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*model.Account, error) {
	result := make(map[string]*model.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var accounts []*model.Account
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error
	if err != nil {
		return nil, err
	}

	for _, a := range accounts {
		result[a.ID] = a
	}
	return result, nil
}

// SearchByEmail 按邮箱子串搜索账户（大小写不敏感），排除指定账户
// 按邮箱升序返回，保证结果顺序可复现
func (r *AccountRepository) SearchByEmail(ctx context.Context, substring, excludeID string, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	pattern := "%" + strings.ToLower(substring) + "%"
	err := r.db.WithContext(ctx).
		Where("email LIKE ? AND id <> ?", pattern, excludeID).
		Order("email ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// Debit 扣减余额（条件更新）
//
// 【关键点】WHERE 条件同时校验余额和版本号：
//   - balance >= amount 保证余额永不为负（即使事务外的预检查已过期）
//   - version = ? 保证并发扣款不会基于过期余额重复生效
//
// 更新 0 行时区分两种失败：余额不足 / 版本冲突（冲突可由上层重试）
func (r *AccountRepository) Debit(ctx context.Context, tx *gorm.DB, id string, amount decimal.Decimal, version int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND balance >= ? AND version = ?", id, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		// 在同一事务内重读，保证失败分类依据的是本事务看到的快照
		account, err := r.GetByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// Credit 增加余额
func (r *AccountRepository) Credit(ctx context.Context, tx *gorm.DB, id string, amount decimal.Decimal) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
