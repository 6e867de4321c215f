package cache

import "errors"

var (
	ErrCacheFull     = errors.New("cache is full")
	ErrInvalidKey    = errors.New("invalid cache key")
	ErrNotConnected  = errors.New("cache not connected")
	ErrUnknownEngine = errors.New("unknown cache engine")
	ErrLockHeld      = errors.New("cache lock is held by another process")
)
