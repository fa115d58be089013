package service

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrNoticeRejected  = errors.New("payment notice rejected")
)
