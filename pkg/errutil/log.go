// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RoomRelay Contributors

// Package errutil logs and asserts on oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. Oops errors contribute their code and
// context; anything else is logged as its string. extra is appended as-is.
func LogError(logger *slog.Logger, msg string, err error, extra ...any) {
	LogErrorContext(context.Background(), logger, msg, err, extra...)
}

// LogErrorContext is LogError with a context, so handlers that read trace
// ids from it can attach them.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, extra ...any) {
	logger.ErrorContext(ctx, msg, append(errorAttrs(err), extra...)...)
}

func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
