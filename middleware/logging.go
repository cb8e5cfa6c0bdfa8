package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ConvoSphere/DataExtract/job"
)

// Logging returns middleware that logs extraction start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("extraction started",
			slog.String("job_id", j.ID.String()),
			slog.String("filename", j.Filename),
			slog.String("priority", string(j.Priority)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("extraction failed",
				slog.String("job_id", j.ID.String()),
				slog.String("filename", j.Filename),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("extraction completed",
				slog.String("job_id", j.ID.String()),
				slog.String("filename", j.Filename),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
