package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/quotedesk/quotedesk/internal/jobs"
	"github.com/quotedesk/quotedesk/internal/quotes"
	"github.com/quotedesk/quotedesk/internal/shared"
)

const (
	defaultReconcileBatch = 200
	reconcileLockTTL      = 15 * time.Minute
)

// ErrReconcileRunning is returned when another worker holds the sweep lock.
var ErrReconcileRunning = errors.New("reconcile: sweep already running")

var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// QuoteReconciler recalculates one page of stored quotes.
type QuoteReconciler interface {
	Reconcile(ctx context.Context, afterID int64, limit int) (quotes.DriftReport, error)
}

// ReconcileQuotesJob walks every stored quote in id order and reports those
// whose stored total no longer matches the calculation.
type ReconcileQuotesJob struct {
	Service QuoteReconciler
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

func NewReconcileQuotesJob(service QuoteReconciler, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileQuotesJob {
	return &ReconcileQuotesJob{Service: service, Redis: client, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *ReconcileQuotesJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reconcile: dependencies not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, ErrReconcileRunning) {
		j.log().Info("skipping sweep, lock held")
		return nil
	}
	return err
}

// Run performs the sweep and returns every drifted quote.
func (j *ReconcileQuotesJob) Run(ctx context.Context, payload ReconcilePayload) (drifted []quotes.Drift, resultErr error) {
	if payload.BatchSize <= 0 {
		payload.BatchSize = defaultReconcileBatch
	}

	unlock, err := j.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tracker := j.metrics().Track(TaskReconcileQuotes)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	var afterID int64
	checked := 0
	for {
		report, err := j.Service.Reconcile(ctx, afterID, payload.BatchSize)
		if err != nil {
			j.log().Error("reconcile page", slog.Int64("after_id", afterID), slog.Any("error", err))
			return drifted, err
		}
		checked += report.Checked
		drifted = append(drifted, report.Drifted...)
		byMode := map[string]int{}
		for _, d := range report.Drifted {
			byMode[string(d.VATMode)]++
		}
		for mode, n := range byMode {
			j.metrics().AddDrift(mode, n)
		}
		if report.LastID == afterID {
			break
		}
		afterID = report.LastID
		if payload.MaxQuotes > 0 && checked >= payload.MaxQuotes {
			break
		}
	}

	j.log().Info("reconciled quotes",
		slog.Int("checked", checked),
		slog.Int("drifted", len(drifted)),
		slog.Duration("duration", time.Since(start)))
	return drifted, nil
}

func (j *ReconcileQuotesJob) lock(ctx context.Context) (func(), error) {
	if j.Redis == nil {
		return func() {}, nil
	}
	key := shared.ReconcileLockKey("all")
	owner := uuid.NewString()
	ok, err := j.Redis.SetNX(ctx, key, owner, reconcileLockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReconcileRunning
	}
	return func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), j.Redis, []string{key}, owner).Err(); err != nil {
			j.log().Warn("release reconcile lock", slog.Any("error", err))
		}
	}, nil
}

func (j *ReconcileQuotesJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileQuotesJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileQuotes))
	}
	return slog.Default().With(slog.String("job", TaskReconcileQuotes))
}
