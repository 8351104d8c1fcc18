package service

import (
	"context"
	"errors"
	"log"
	"time"

	"peerpay/internal/config"
	"peerpay/internal/model"
	"peerpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// HistoryService 交易查询服务
// 只读路径：交易历史、交易详情、收款人搜索
type HistoryService struct {
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewHistoryService(db *gorm.DB, cfg *config.Config) *HistoryService {
	return &HistoryService{
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

// TransactionView 交易记录视图，回填双方邮箱便于展示
type TransactionView struct {
	ID            string          `json:"id"`
	TransferNo    string          `json:"transfer_no"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	SenderEmail   string          `json:"sender_email"`
	ReceiverEmail string          `json:"receiver_email"`
	Amount        decimal.Decimal `json:"amount"`
	Memo          string          `json:"memo,omitempty"`
	Status        string          `json:"status"`
	Category      string          `json:"category"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AccountSummary 收款人搜索结果
// 只暴露 id / 邮箱 / 显示名，不含余额等敏感字段
type AccountSummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// NormalizePage 把分页参数收敛到有效范围
// limit 收敛到 [1, max_page_size]（< 1 回退默认页大小），offset 收敛到 >= 0
// handler 用它回显实际生效的分页参数
func (s *HistoryService) NormalizePage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = s.cfg.Business.DefaultPageSize
	}
	if limit > s.cfg.Business.MaxPageSize {
		limit = s.cfg.Business.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListTransactions 分页查询账户的交易历史
func (s *HistoryService) ListTransactions(ctx context.Context, accountID, direction string, limit, offset int) ([]*TransactionView, int64, error) {
	limit, offset = s.NormalizePage(limit, offset)

	switch direction {
	case repository.DirectionSent, repository.DirectionReceived:
	default:
		direction = repository.DirectionAll
	}

	transactions, total, err := s.transactionRepo.ListByAccount(ctx, accountID, direction, limit, offset)
	if err != nil {
		log.Printf("[History] 查询交易列表失败: accountID=%s, err=%v", accountID, err)
		return nil, 0, ErrStoreUnavailable
	}

	views, err := s.buildViews(ctx, transactions)
	if err != nil {
		return nil, 0, ErrStoreUnavailable
	}
	return views, total, nil
}

// GetTransaction 查询交易详情
// 交易仅对转账双方可见
func (s *HistoryService) GetTransaction(ctx context.Context, transactionID, requesterID string) (*TransactionView, error) {
	trans, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		log.Printf("[History] 查询交易失败: id=%s, err=%v", transactionID, err)
		return nil, ErrStoreUnavailable
	}

	if trans.FromAccountID != requesterID && trans.ToAccountID != requesterID {
		return nil, ErrForbidden
	}

	views, err := s.buildViews(ctx, []*model.Transaction{trans})
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	return views[0], nil
}

// SearchRecipients 按邮箱子串搜索收款人，排除请求者本人
func (s *HistoryService) SearchRecipients(ctx context.Context, query, requesterID string) ([]*AccountSummary, error) {
	accounts, err := s.accountRepo.SearchByEmail(ctx, query, requesterID, 10)
	if err != nil {
		log.Printf("[History] 搜索账户失败: query=%q, err=%v", query, err)
		return nil, ErrStoreUnavailable
	}

	summaries := make([]*AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		summaries = append(summaries, &AccountSummary{
			ID:       a.ID,
			Email:    a.Email,
			FullName: a.FullName,
		})
	}
	return summaries, nil
}

// buildViews 批量回填交易双方邮箱（只读联查，不产生任何写入）
func (s *HistoryService) buildViews(ctx context.Context, transactions []*model.Transaction) ([]*TransactionView, error) {
	idSet := make(map[string]struct{}, len(transactions)*2)
	ids := make([]string, 0, len(transactions)*2)
	for _, t := range transactions {
		for _, id := range []string{t.FromAccountID, t.ToAccountID} {
			if _, ok := idSet[id]; !ok {
				idSet[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	accounts, err := s.accountRepo.GetByIDs(ctx, ids)
	if err != nil {
		log.Printf("[History] 批量查询账户失败: err=%v", err)
		return nil, err
	}

	views := make([]*TransactionView, 0, len(transactions))
	for _, t := range transactions {
		view := &TransactionView{
			ID:            t.ID,
			TransferNo:    t.TransferNo,
			FromAccountID: t.FromAccountID,
			ToAccountID:   t.ToAccountID,
			Amount:        t.Amount,
			Memo:          t.Memo,
			Status:        t.Status,
			Category:      t.Category,
			CreatedAt:     t.CreatedAt,
		}
		if a, ok := accounts[t.FromAccountID]; ok {
			view.SenderEmail = a.Email
		}
		if a, ok := accounts[t.ToAccountID]; ok {
			view.ReceiverEmail = a.Email
		}
		views = append(views, view)
	}
	return views, nil
}
