package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/room-climate-charts/internal/observability"
)

// loggerFromContext returns the request or run logger, or nil.
func loggerFromContext(ctx context.Context) *zap.Logger {
	return observability.LoggerFromContext(ctx)
}

// loggerOr returns the context logger, falling back to fallback.
func loggerOr(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l := loggerFromContext(ctx); l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
