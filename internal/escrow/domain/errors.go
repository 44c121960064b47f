package domain

import "errors"

var (
	// ErrNotFound 账户、交易或放款条件不存在
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("escrow: invalid state transition")
	// ErrInsufficientFunds 可用余额不足
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrInvalidAmount 金额必须为正
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidInput 请求参数缺失或非法
	ErrInvalidInput = errors.New("escrow: invalid input")
	// ErrNoReleaseConditions 托管账户必须至少配置一个放款条件
	ErrNoReleaseConditions = errors.New("escrow: at least one release condition is required")
	// ErrConcurrentModification 乐观锁版本冲突，可重试
	ErrConcurrentModification = errors.New("escrow: concurrent modification")
	// ErrConservationViolated 账户余额与流水推导结果不一致
	ErrConservationViolated = errors.New("escrow: conservation invariant violated")
)
