package modhost

import "log/slog"

// Logger is the structured logger used throughout the framework. Arguments
// are alternating key-value pairs; *slog.Logger satisfies it.
//
//	logger.Info("Module installed", "module", "acme/blog")
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

func discardLogger() Logger {
	return slog.New(slog.DiscardHandler)
}
