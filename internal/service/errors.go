package service

import "errors"

// 转账引擎和查询接口对外暴露的全部错误
// handler 层按错误类型映射业务码，存储层的原始错误不跨出 service 边界
var (
	// 入参校验失败，未触达存储层
	ErrInvalidAmount  = errors.New("转账金额不合法")
	ErrAmountTooSmall = errors.New("转账金额低于最小限额")
	ErrAmountTooLarge = errors.New("转账金额超过最大限额")
	ErrMemoTooLong    = errors.New("附言长度超出限制")

	// 业务规则拒绝，未产生任何状态变更
	ErrRecipientNotFound   = errors.New("收款账户不存在")
	ErrSelfTransfer        = errors.New("不能向自己转账")
	ErrInsufficientBalance = errors.New("余额不足")

	// 存储层失败
	ErrStoreConflict    = errors.New("系统繁忙，请稍后重试") // 可重试：原子事务因并发冲突未能提交
	ErrStoreUnavailable = errors.New("服务暂不可用")     // 不可重试：存储层故障，本次调用失败，无部分状态

	// 查询路径
	ErrTransactionNotFound = errors.New("交易不存在")
	ErrForbidden           = errors.New("无权查看该交易")

	// 注册 / 登录
	ErrEmailTaken         = errors.New("邮箱已被注册")
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrAccountNotFound    = errors.New("账户不存在")
)
