package handler

import (
	"errors"
	"strconv"

	"peerpay/internal/config"
	"peerpay/internal/model"
	"peerpay/internal/repository"
	"peerpay/internal/service"
	"peerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	accountService  *service.AccountService
	transferService *service.TransferService
	historyService  *service.HistoryService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		accountService:  service.NewAccountService(db, cfg),
		transferService: service.NewTransferService(db, rdb, cfg),
		historyService:  service.NewHistoryService(db, cfg),
	}
}

// mapServiceError 把 service 层的类型化错误映射为业务码
// 每种失败都有独立的业务码，前端不需要匹配 message 文本
func mapServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrAmountTooSmall):
		response.BusinessError(c, response.CodeAmountTooSmall, err.Error())
	case errors.Is(err, service.ErrAmountTooLarge):
		response.BusinessError(c, response.CodeAmountTooLarge, err.Error())
	case errors.Is(err, service.ErrMemoTooLong):
		response.BusinessError(c, response.CodeMemoTooLong, err.Error())
	case errors.Is(err, service.ErrRecipientNotFound):
		response.BusinessError(c, response.CodeRecipientNotFound, err.Error())
	case errors.Is(err, service.ErrSelfTransfer):
		response.BusinessError(c, response.CodeSelfTransfer, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrStoreConflict):
		response.BusinessError(c, response.CodeStoreConflict, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		response.BusinessError(c, response.CodeTransactionNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, response.CodeForbidden, err.Error())
	case errors.Is(err, service.ErrEmailTaken):
		response.BusinessError(c, response.CodeEmailTaken, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		response.BusinessError(c, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, service.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	default:
		response.ServerError(c, service.ErrStoreUnavailable.Error())
	}
}

// currentAccount 取认证中间件放入上下文的账户
func currentAccount(c *gin.Context) *model.Account {
	return c.MustGet(ContextAccountKey).(*model.Account)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// ============================================================
// 认证相关接口
// ============================================================

// SignupRequest 注册请求
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	FullName string `json:"full_name" binding:"max=128"`
}

// Signup 注册
// POST /api/v1/auth/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, accessToken, err := h.accountService.Register(c.Request.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"access_token": accessToken,
		"token_type":   "bearer",
		"account":      account,
	})
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login 登录
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, accessToken, err := h.accountService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"access_token": accessToken,
		"token_type":   "bearer",
		"account":      account,
	})
}

// Me 查询当前账户信息
// GET /api/v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	response.Success(c, currentAccount(c))
}

// GetBalance 查询当前账户余额
// GET /api/v1/auth/balance
func (h *Handler) GetBalance(c *gin.Context) {
	account := currentAccount(c)
	response.Success(c, gin.H{
		"account_id": account.ID,
		"email":      account.Email,
		"balance":    account.Balance,
	})
}

// ============================================================
// 转账相关接口
// ============================================================

// TransferRequest 转账请求
// 金额用 decimal 直接反序列化，全链路不经过 float64
type TransferRequest struct {
	ToEmail string          `json:"to_email" binding:"required,email"`
	Amount  decimal.Decimal `json:"amount"`
	Memo    string          `json:"memo" binding:"max=255"`
}

// Transfer 发起转账
// POST /api/v1/transfers
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	trans, err := h.transferService.Transfer(c.Request.Context(), currentAccount(c), req.ToEmail, req.Amount, req.Memo)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"transaction": trans,
	})
}

// ListTransfers 查询交易历史
// GET /api/v1/transfers?direction=sent|received|all&limit=10&offset=0
func (h *Handler) ListTransfers(c *gin.Context) {
	account := currentAccount(c)

	// 回显实际生效的分页参数，客户端按它翻页
	limit, offset := h.historyService.NormalizePage(intQuery(c, "limit", 0), intQuery(c, "offset", 0))
	direction := c.DefaultQuery("direction", repository.DirectionAll)

	transactions, total, err := h.historyService.ListTransactions(c.Request.Context(), account.ID, direction, limit, offset)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":   transactions,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetTransfer 查询交易详情（仅交易双方可见）
// GET /api/v1/transfers/:id
func (h *Handler) GetTransfer(c *gin.Context) {
	transactionID := c.Param("id")
	if transactionID == "" {
		response.ParamError(c, "id 参数不能为空")
		return
	}

	view, err := h.historyService.GetTransaction(c.Request.Context(), transactionID, currentAccount(c).ID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	response.Success(c, view)
}

// SearchRecipients 搜索收款人
// GET /api/v1/transfers/users/search?q=xxx
func (h *Handler) SearchRecipients(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		response.ParamError(c, "q 参数不能为空")
		return
	}

	summaries, err := h.historyService.SearchRecipients(c.Request.Context(), query, currentAccount(c).ID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	response.Success(c, summaries)
}
