package store

import "errors"

var (
	ErrUnknownEngine = errors.New("unknown store engine")
	ErrPathRequired  = errors.New("store path is required")
	ErrEmptyKey      = errors.New("store key must not be empty")
	ErrClosed        = errors.New("store is closed")
)
