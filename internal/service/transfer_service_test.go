package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"peerpay/internal/config"
	"peerpay/internal/model"
	"peerpay/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Account{},
		&model.Transaction{},
		&model.OutboxMessage{},
	))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{TransferCompleted: "peerpay.transfer.completed"},
		},
		JWT: config.JWTConfig{Secret: "test-secret", ExpireMinutes: 30},
		Business: config.BusinessConfig{
			MinTransferAmount: "0.01",
			MaxTransferAmount: "10000.00",
			SignupBonus:       "1000.00",
			DefaultPageSize:   10,
			MaxPageSize:       100,
			MaxRetryCount:     3,
			LockTTLSeconds:    30,
		},
	}
}

func createAccount(t *testing.T, db *gorm.DB, email, balance string) *model.Account {
	t.Helper()

	account := &model.Account{
		ID:             uuid.NewString(),
		Email:          email,
		HashedPassword: "x",
		Balance:        decimal.RequireFromString(balance),
	}
	require.NoError(t, repository.NewAccountRepository(db).Create(context.Background(), account))
	return account
}

func createAccountWithID(t *testing.T, db *gorm.DB, id, email, balance string) *model.Account {
	t.Helper()

	account := &model.Account{
		ID:             id,
		Email:          email,
		HashedPassword: "x",
		Balance:        decimal.RequireFromString(balance),
	}
	require.NoError(t, repository.NewAccountRepository(db).Create(context.Background(), account))
	return account
}

func getBalance(t *testing.T, db *gorm.DB, id string) decimal.Decimal {
	t.Helper()

	account, err := repository.NewAccountRepository(db).GetByID(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func countTransactions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&model.Transaction{}).Count(&count).Error)
	return count
}

func TestTransferSuccess(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	a := createAccount(t, db, "a@example.com", "1000.00")
	b := createAccount(t, db, "b@example.com", "1000.00")

	trans, err := svc.Transfer(ctx, a, "b@example.com", decimal.RequireFromString("250.00"), "lunch")
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)
	assert.Equal(t, model.TransactionCategoryTransfer, trans.Category)
	assert.Equal(t, a.ID, trans.FromAccountID)
	assert.Equal(t, b.ID, trans.ToAccountID)
	assert.Equal(t, "lunch", trans.Memo)
	assert.Equal(t, "250.00", trans.Amount.StringFixed(2))
	assert.NotEmpty(t, trans.TransferNo)

	// 双方余额同时生效，总额守恒
	balanceA := getBalance(t, db, a.ID)
	balanceB := getBalance(t, db, b.ID)
	assert.Equal(t, "750.00", balanceA.StringFixed(2))
	assert.Equal(t, "1250.00", balanceB.StringFixed(2))
	assert.Equal(t, "2000.00", balanceA.Add(balanceB).StringFixed(2))

	// 调用方持有的快照被同步
	assert.Equal(t, "750.00", a.Balance.StringFixed(2))

	// 持久化的交易记录已是 COMPLETED
	stored, err := repository.NewTransactionRepository(db).GetByID(ctx, trans.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, stored.Status)

	// 转账完成事件写入 outbox（与转账同一事务）
	messages, err := repository.NewOutboxRepository(db).GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, trans.TransferNo, messages[0].MessageKey)
	assert.Equal(t, "peerpay.transfer.completed", messages[0].Topic)
	assert.Contains(t, messages[0].Payload, trans.ID)
}

func TestTransferInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	a := createAccount(t, db, "a@example.com", "10.00")
	createAccount(t, db, "b@example.com", "0.00")

	_, err := svc.Transfer(context.Background(), a, "b@example.com", decimal.RequireFromString("50.00"), "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// 失败不产生任何状态变更
	assert.Equal(t, "10.00", getBalance(t, db, a.ID).StringFixed(2))
	assert.EqualValues(t, 0, countTransactions(t, db))
}

func TestTransferSelfTransfer(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	a := createAccount(t, db, "a@example.com", "1000.00")

	_, err := svc.Transfer(context.Background(), a, "A@Example.com", decimal.RequireFromString("10.00"), "")
	assert.ErrorIs(t, err, ErrSelfTransfer)
	assert.EqualValues(t, 0, countTransactions(t, db))
}

func TestTransferRecipientNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	a := createAccount(t, db, "a@example.com", "1000.00")

	_, err := svc.Transfer(context.Background(), a, "nobody@nowhere", decimal.RequireFromString("10.00"), "")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestTransferAmountValidation(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	a := createAccount(t, db, "a@example.com", "1000.00")
	createAccount(t, db, "b@example.com", "0.00")

	// 规整到两位小数后 <= 0 的金额一律拒绝
	for _, raw := range []string{"0.004", "0", "-5.00", "-0.001"} {
		_, err := svc.Transfer(ctx, a, "b@example.com", decimal.RequireFromString(raw), "")
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount=%s", raw)
	}

	// 超过上限
	_, err := svc.Transfer(ctx, a, "b@example.com", decimal.RequireFromString("10000.01"), "")
	assert.ErrorIs(t, err, ErrAmountTooLarge)

	// 校验失败不触达存储层
	assert.EqualValues(t, 0, countTransactions(t, db))
	assert.Equal(t, "1000.00", getBalance(t, db, a.ID).StringFixed(2))
}

func TestTransferAmountBelowConfiguredMinimum(t *testing.T) {
	db := newTestDB(t)
	cfg := newTestConfig()
	cfg.Business.MinTransferAmount = "10.00"
	svc := NewTransferService(db, newTestRedis(t), cfg)

	a := createAccount(t, db, "a@example.com", "1000.00")
	createAccount(t, db, "b@example.com", "0.00")

	_, err := svc.Transfer(context.Background(), a, "b@example.com", decimal.RequireFromString("5.00"), "")
	assert.ErrorIs(t, err, ErrAmountTooSmall)
}

func TestTransferRoundsHalfUp(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	a := createAccount(t, db, "a@example.com", "1000.00")
	b := createAccount(t, db, "b@example.com", "0.00")

	trans, err := svc.Transfer(context.Background(), a, "b@example.com", decimal.RequireFromString("100.005"), "")
	require.NoError(t, err)

	assert.Equal(t, "100.01", trans.Amount.StringFixed(2))
	assert.Equal(t, "899.99", getBalance(t, db, a.ID).StringFixed(2))
	assert.Equal(t, "100.01", getBalance(t, db, b.ID).StringFixed(2))
}

func TestTransferSequentialOverdraw(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	a := createAccount(t, db, "a@example.com", "1000.00")
	createAccount(t, db, "b@example.com", "0.00")
	createAccount(t, db, "c@example.com", "0.00")

	// 两笔各 600，只允许一笔成功，余额永不为负
	_, err := svc.Transfer(ctx, a, "b@example.com", decimal.RequireFromString("600.00"), "")
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, a, "c@example.com", decimal.RequireFromString("600.00"), "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, "400.00", getBalance(t, db, a.ID).StringFixed(2))
	assert.EqualValues(t, 1, countTransactions(t, db))
}

func TestTransferMirrorDirections(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	// 固定 ID 制造两种大小关系，覆盖事务内两条余额 UPDATE 的两种执行顺序
	low := createAccountWithID(t, db, "00000000-0000-0000-0000-00000000000a", "low@example.com", "1000.00")
	high := createAccountWithID(t, db, "ffffffff-ffff-ffff-ffff-fffffffffff0", "high@example.com", "1000.00")

	// 付款方 ID 较小：先扣款后入账
	_, err := svc.Transfer(ctx, low, "high@example.com", decimal.RequireFromString("100.00"), "")
	require.NoError(t, err)
	assert.Equal(t, "900.00", getBalance(t, db, low.ID).StringFixed(2))
	assert.Equal(t, "1100.00", getBalance(t, db, high.ID).StringFixed(2))

	// 付款方 ID 较大：先入账后扣款，结果一致
	_, err = svc.Transfer(ctx, high, "low@example.com", decimal.RequireFromString("100.00"), "")
	require.NoError(t, err)
	assert.Equal(t, "1000.00", getBalance(t, db, low.ID).StringFixed(2))
	assert.Equal(t, "1000.00", getBalance(t, db, high.ID).StringFixed(2))
}

func TestTransferAbortsCleanlyWhenRecipientIDSortsFirst(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	// 收款方 ID 较小的分支：事务内失败同样不留任何状态
	poor := createAccountWithID(t, db, "ffffffff-ffff-ffff-ffff-fffffffffff0", "poor@example.com", "10.00")
	rich := createAccountWithID(t, db, "00000000-0000-0000-0000-00000000000a", "rich@example.com", "0.00")

	// 过期快照绕过事务外预检查，让失败发生在事务内部
	stale := *poor
	stale.Balance = decimal.RequireFromString("1000.00")

	_, err := svc.Transfer(context.Background(), &stale, "rich@example.com", decimal.RequireFromString("50.00"), "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, "10.00", getBalance(t, db, poor.ID).StringFixed(2))
	assert.Equal(t, "0.00", getBalance(t, db, rich.ID).StringFixed(2))
	assert.EqualValues(t, 0, countTransactions(t, db))
}

func TestTransferConcurrentOverdraw(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	a := createAccount(t, db, "a@example.com", "1000.00")
	createAccount(t, db, "b@example.com", "0.00")
	createAccount(t, db, "c@example.com", "0.00")

	// 两个 goroutine 各持一份付款方快照同时转 600，只允许一笔成功
	targets := []string{"b@example.com", "c@example.com"}
	errs := make(chan error, len(targets))

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(toEmail string) {
			defer wg.Done()
			snapshot := *a
			_, err := svc.Transfer(context.Background(), &snapshot, toEmail, decimal.RequireFromString("600.00"), "")
			errs <- err
		}(target)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "400.00", getBalance(t, db, a.ID).StringFixed(2))
	assert.EqualValues(t, 1, countTransactions(t, db))
}

func TestTransferMemoTooLong(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())
	ctx := context.Background()

	a := createAccount(t, db, "a@example.com", "1000.00")
	createAccount(t, db, "b@example.com", "0.00")

	_, err := svc.Transfer(ctx, a, "b@example.com", decimal.RequireFromString("10.00"), strings.Repeat("x", 256))
	assert.ErrorIs(t, err, ErrMemoTooLong)
	assert.EqualValues(t, 0, countTransactions(t, db))

	// 恰好 255 个字符可以通过
	trans, err := svc.Transfer(ctx, a, "b@example.com", decimal.RequireFromString("10.00"), strings.Repeat("x", 255))
	require.NoError(t, err)
	assert.Len(t, trans.Memo, 255)
}

func TestTransferRechecksBalanceInsideUnit(t *testing.T) {
	db := newTestDB(t)
	svc := NewTransferService(db, newTestRedis(t), newTestConfig())

	a := createAccount(t, db, "a@example.com", "100.00")
	createAccount(t, db, "b@example.com", "0.00")

	// 模拟过期读：调用方快照里的余额远高于库里的真实余额
	// 事务外的预检查会放行，事务内的重读必须拦下来
	stale := *a
	stale.Balance = decimal.RequireFromString("1000.00")

	_, err := svc.Transfer(context.Background(), &stale, "b@example.com", decimal.RequireFromString("600.00"), "")
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// 事务整体回滚：余额不变，PENDING 记录也随之消失
	assert.Equal(t, "100.00", getBalance(t, db, a.ID).StringFixed(2))
	assert.EqualValues(t, 0, countTransactions(t, db))
}
