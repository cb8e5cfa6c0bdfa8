package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ConvoSphere/DataExtract/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. A parsing library choking on malformed input must fail the one
// job, never the pool; panics are converted to errors and logged with a
// stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("extraction panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("filename", j.Filename),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic extracting %s: %v", j.ID, r)
			}
		}()
		return next(ctx)
	}
}
