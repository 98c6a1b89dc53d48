package core

import "errors"

// 所有包共享的错误类别，调用方用 errors.Is 判断
// 具体细节通过 fmt.Errorf("%w: ...", ErrX) 附加
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidData      = errors.New("invalid data")
	ErrInvalidID        = errors.New("invalid object id")
	ErrVerify           = errors.New("verify failed")
	ErrOffsetTooLarge   = errors.New("offset too large")
	ErrUnsupported      = errors.New("unsupported")
	ErrInvalidState     = errors.New("invalid state")
	ErrPermissionDenied = errors.New("permission denied")
	ErrIncomplete       = errors.New("incomplete")
	ErrInvalidLink      = errors.New("invalid link")
	ErrInvalidParam     = errors.New("invalid param")
	ErrIO               = errors.New("io error")
	ErrDB               = errors.New("db error")
)
