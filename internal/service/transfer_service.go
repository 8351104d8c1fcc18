package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"peerpay/internal/config"
	"peerpay/internal/infrastructure/lock"
	"peerpay/internal/model"
	"peerpay/internal/repository"
	"peerpay/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 单笔转账原子事务的超时上限，超时整体回滚
const transferUnitTimeout = 5 * time.Second

// 附言长度上限（按字符计，与 varchar(255) 一致）
const maxMemoLength = 255

// TransferService P2P 转账引擎
//
// 【关键点】转账是整个系统最核心的操作，需要保证：
// 1. 原子性：双方余额变更和交易记录必须同时成功或同时失败
// 2. 余额不变量：任何已提交状态下 balance >= 0
// 3. 并发安全：事务内重读余额 + 版本号条件扣款，配合按付款方维度的分布式锁
type TransferService struct {
	db              *gorm.DB
	redisClient     *redis.Client
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	minAmount       decimal.Decimal
	maxAmount       decimal.Decimal
}

func NewTransferService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *TransferService {
	return &TransferService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		minAmount:       cfg.Business.MinAmount(),
		maxAmount:       cfg.Business.MaxAmount(),
	}
}

// Transfer 执行一笔转账
//
// 校验顺序固定，首个失败即返回：
// 金额规整 -> 最小限额 -> 最大限额 -> 附言长度 -> 收款方存在 -> 非自转 -> 余额预检查
//
// 预检查通过后在原子事务内执行，事务内会重读余额再次校验（见 executeTransfer）。
// 乐观锁冲突时整个事务从头重试有限次，重试耗尽返回 ErrStoreConflict。
func (s *TransferService) Transfer(ctx context.Context, sender *model.Account, toEmail string, amount decimal.Decimal, memo string) (*model.Transaction, error) {
	// 金额规整到两位小数（四舍五入），规整后必须为正
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(s.minAmount) {
		return nil, ErrAmountTooSmall
	}
	if amount.GreaterThan(s.maxAmount) {
		return nil, ErrAmountTooLarge
	}

	if utf8.RuneCountInString(memo) > maxMemoLength {
		return nil, ErrMemoTooLong
	}

	recipient, err := s.accountRepo.GetByEmail(ctx, toEmail)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		log.Printf("[Transfer] 查询收款账户失败: email=%s, err=%v", toEmail, err)
		return nil, ErrStoreUnavailable
	}

	if recipient.ID == sender.ID {
		return nil, ErrSelfTransfer
	}

	// 余额预检查（事务内还会重读再校验一次）
	if sender.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	// 按付款方维度加分布式锁，同一账户的转账串行执行
	transferNo := idgen.GenerateTransferNo()
	transferLock := lock.NewTransferLock(s.redisClient, sender.ID, transferNo,
		time.Duration(s.cfg.Business.LockTTLSeconds)*time.Second)
	if err := transferLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, ErrStoreConflict
	}
	defer transferLock.Unlock(ctx)

	var trans *model.Transaction
	for i := 0; i <= s.cfg.Business.MaxRetryCount; i++ {
		trans, err = s.executeTransfer(ctx, transferNo, sender.ID, recipient.ID, amount, memo)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			break
		}
		log.Printf("[Transfer] 乐观锁冲突，重试第 %d 次: transferNo=%s", i+1, transferNo)
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			return nil, ErrInsufficientBalance
		case errors.Is(err, repository.ErrOptimisticLock):
			return nil, ErrStoreConflict
		case errors.Is(err, context.DeadlineExceeded):
			return nil, ErrStoreConflict
		default:
			log.Printf("[Transfer] 转账事务失败: transferNo=%s, err=%v", transferNo, err)
			return nil, ErrStoreUnavailable
		}
	}

	log.Printf("[Transfer] 转账成功: transferNo=%s, from=%s, to=%s, amount=%s",
		transferNo, sender.ID, recipient.ID, amount.StringFixed(2))

	// 同步调用方持有的账户快照
	sender.Balance = sender.Balance.Sub(amount)

	return trans, nil
}

// executeTransfer 原子事务单元
//
// 事务内的每一步：
// 1. 重读付款方余额（防止预检查的读已过期）
// 2. 创建 PENDING 交易记录
// 3. 条件扣款（余额 + 版本号校验）+ 收款方入账，两条 UPDATE 按账户 ID 升序执行
// 4. 交易状态 PENDING -> COMPLETED
// 5. 写转账完成事件到 outbox
// 任何一步失败整体回滚，PENDING 记录随之消失，不落任何 FAILED 记录
func (s *TransferService) executeTransfer(ctx context.Context, transferNo, fromID, toID string, amount decimal.Decimal, memo string) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, transferUnitTimeout)
	defer cancel()

	trans := &model.Transaction{
		ID:            uuid.NewString(),
		TransferNo:    transferNo,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Amount:        amount,
		Memo:          memo,
		Status:        model.TransactionStatusPending,
		Category:      model.TransactionCategoryTransfer,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := s.accountRepo.GetByIDTx(ctx, tx, fromID)
		if err != nil {
			return err
		}
		if fresh.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return err
		}

		debit := func() error {
			if err := s.accountRepo.Debit(ctx, tx, fromID, amount, fresh.Version); err != nil {
				if errors.Is(err, repository.ErrBalanceNotEnough) {
					return ErrInsufficientBalance
				}
				return err
			}
			return nil
		}
		credit := func() error {
			return s.accountRepo.Credit(ctx, tx, toID, amount)
		}

		// 两条余额 UPDATE 按账户 ID 升序执行
		// 镜像转账 A→B 与 B→A 的行锁获取顺序因此一致，不会互相死锁
		first, second := debit, credit
		if toID < fromID {
			first, second = credit, debit
		}
		if err := first(); err != nil {
			return err
		}
		if err := second(); err != nil {
			return err
		}

		if err := s.transactionRepo.UpdateStatus(ctx, tx, trans.ID,
			model.TransactionStatusPending, model.TransactionStatusCompleted); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"transaction_id":  trans.ID,
			"transfer_no":     transferNo,
			"from_account_id": fromID,
			"to_account_id":   toID,
			"amount":          amount.StringFixed(2),
			"status":          model.TransactionStatusCompleted,
			"created_at":      time.Now().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}

		outboxMsg := &model.OutboxMessage{
			MessageKey: transferNo,
			Topic:      s.cfg.Kafka.Topic.TransferCompleted,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})

	if err != nil {
		return nil, err
	}

	trans.Status = model.TransactionStatusCompleted
	return trans, nil
}
