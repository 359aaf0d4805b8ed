package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/quotedesk/quotedesk/internal/jobs"
)

// CacheInvalidator bumps the master-data cache namespace.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// MasterdataBumpJob invalidates cached master data after bulk imports.
type MasterdataBumpJob struct {
	Cache   CacheInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewMasterdataBumpJob(cache CacheInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *MasterdataBumpJob {
	return &MasterdataBumpJob{Cache: cache, Logger: logger, Metrics: metrics}
}

func (j *MasterdataBumpJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cache == nil {
		return errors.New("masterdata bump: cache not configured")
	}
	var payload MasterdataBumpPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskMasterdataBump)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version, err := j.Cache.Invalidate(ctx)
	if err != nil {
		logger.Error("bump masterdata cache", slog.Any("error", err))
		return err
	}
	logger.Info("masterdata cache bumped", slog.Int64("version", version), slog.String("reason", payload.Reason))
	return nil
}
