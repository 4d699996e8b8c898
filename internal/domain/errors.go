package domain

import "errors"

var (
	// ErrConnection 邮件源不可达或认证失败，本次运行中止
	ErrConnection = errors.New("mail source connection failed")
	// ErrMessageFetch 单封邮件拉取或解析失败，跳过该邮件
	ErrMessageFetch = errors.New("message fetch failed")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")
	// ErrValidation 请求字段缺失或非法
	ErrValidation = errors.New("validation failed")
	// ErrStoreUnavailable 存储不可用
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidCredentials 管理员邮箱或密码错误
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyExists 唯一键冲突
	ErrAlreadyExists = errors.New("already exists")
)
