package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/quotedesk/quotedesk/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskReconcileQuotes recalculates stored quotes and reports total drift.
	TaskReconcileQuotes = "quotes:reconcile"
	// TaskMasterdataBump invalidates every cached master-data entry.
	TaskMasterdataBump = "masterdata:bump"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcilePayload bounds one reconciliation sweep.
type ReconcilePayload struct {
	BatchSize int `json:"batch_size"`
	MaxQuotes int `json:"max_quotes"`
}

// MasterdataBumpPayload records why the cache was invalidated.
type MasterdataBumpPayload struct {
	Reason string `json:"reason"`
}

// IdempotencyCleanupPayload configures how long keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReconcileTask constructs the reconciliation task.
func NewReconcileTask(batchSize, maxQuotes int) (*asynq.Task, error) {
	return newTask(TaskReconcileQuotes, ReconcilePayload{BatchSize: batchSize, MaxQuotes: maxQuotes})
}

// NewMasterdataBumpTask constructs the cache invalidation task.
func NewMasterdataBumpTask(reason string) (*asynq.Task, error) {
	return newTask(TaskMasterdataBump, MasterdataBumpPayload{Reason: reason})
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{Retention: retention})
}

func newTask(typ string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault)), nil
}
