package modhost

import (
	"errors"
)

// Module errors
var (
	ErrModuleNotFound          = errors.New("module not found")
	ErrModuleDependencyMissing = errors.New("module depends on non-existent module")
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrInvalidState            = errors.New("invalid persisted module state")
	ErrNotContributor          = errors.New("collector binding does not implement Contributor")
)

// Application errors
var (
	ErrApplicationNotSetUp = errors.New("application is not set up")
	ErrSetupFailed         = errors.New("application setup failed")
	ErrLoggerNotSet        = errors.New("logger not set")
)
