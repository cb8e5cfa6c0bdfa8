package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/job"
)

// Timeout returns middleware that enforces the job's wall-clock budget.
// If the job carries a non-zero Timeout, a context.WithTimeout wraps the
// handler call; a handler that runs past the deadline sees its context
// cancelled and the error surfaces as dataextract.ErrTimeout so the
// executor can classify it.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}

		logger.Debug("wall-clock budget set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: budget %s exceeded", dataextract.ErrTimeout, j.Timeout)
		}
		return err
	}
}
