package service

import (
	"context"
	"errors"
	"log"
	"strings"

	"peerpay/internal/config"
	"peerpay/internal/model"
	"peerpay/internal/repository"
	"peerpay/pkg/token"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AccountService 账户注册 / 登录 / 查询
// 身份认证是转账引擎的外围协作方：引擎只消费已认证的账户
type AccountService struct {
	cfg         *config.Config
	accountRepo *repository.AccountRepository
	tokenMaker  *token.Maker
}

func NewAccountService(db *gorm.DB, cfg *config.Config) *AccountService {
	return &AccountService{
		cfg:         cfg,
		accountRepo: repository.NewAccountRepository(db),
		tokenMaker:  token.NewMaker(cfg.JWT.Secret, cfg.JWT.ExpireMinutes),
	}
}

// Register 注册新账户
// 邮箱统一小写存储；初始余额为配置的注册赠送金额
func (s *AccountService) Register(ctx context.Context, email, password, fullName string) (*model.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	account := &model.Account{
		ID:             uuid.NewString(),
		Email:          email,
		FullName:       fullName,
		HashedPassword: string(hashed),
		Balance:        s.cfg.Business.Bonus(),
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, "", ErrEmailTaken
		}
		log.Printf("[Account] 创建账户失败: email=%s, err=%v", email, err)
		return nil, "", ErrStoreUnavailable
	}

	accessToken, err := s.tokenMaker.Generate(account.ID)
	if err != nil {
		return nil, "", err
	}

	log.Printf("[Account] 注册成功: id=%s, email=%s", account.ID, account.Email)
	return account, accessToken, nil
}

// Login 登录，校验密码并签发访问令牌
func (s *AccountService) Login(ctx context.Context, email, password string) (*model.Account, string, error) {
	account, err := s.accountRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", ErrStoreUnavailable
	}

	if bcrypt.CompareHashAndPassword([]byte(account.HashedPassword), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	accessToken, err := s.tokenMaker.Generate(account.ID)
	if err != nil {
		return nil, "", err
	}

	return account, accessToken, nil
}

// GetAccount 按 ID 查询账户（认证中间件用它把令牌换成账户）
func (s *AccountService) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, ErrStoreUnavailable
	}
	return account, nil
}

// VerifyToken 解析访问令牌，返回账户 ID
func (s *AccountService) VerifyToken(tokenStr string) (string, error) {
	return s.tokenMaker.Parse(tokenStr)
}
