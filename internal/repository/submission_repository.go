package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/health-screen/internal/logging"
)

// Outcome classifies how a submission ended.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeValidation Outcome = "validation"
	OutcomeConnection Outcome = "connection"
	OutcomeServer     Outcome = "server"
	OutcomeFailure    Outcome = "failure"
)

// SubmissionLog records the outcome of one screening submission. It never
// stores the image or the prediction itself.
type SubmissionLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Owner      string    `gorm:"column:owner;size:64;index"`
	Category   string    `gorm:"column:category;size:16;index"`
	Outcome    Outcome   `gorm:"column:outcome;size:16"`
	StatusCode int       `gorm:"column:status_code"`
	ImageSize  int64     `gorm:"column:image_size"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (SubmissionLog) TableName() string {
	return "submission_logs"
}

// MetricsAggregation is the raw aggregate over all submission logs.
type MetricsAggregation struct {
	TotalCount       int64            `gorm:"column:total_count"`
	SuccessCount     int64            `gorm:"column:success_count"`
	AverageLatencyMs float64          `gorm:"column:average_latency_ms"`
	ByCategory       map[string]int64 `gorm:"-"`
	ByOutcome        map[string]int64 `gorm:"-"`
}

type groupCount struct {
	Key   string `gorm:"column:group_key"`
	Count int64  `gorm:"column:count"`
}

// SubmissionRepository persists submission logs with gorm.
type SubmissionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSubmissionRepository creates a repository with bounded retries on transient errors.
func NewSubmissionRepository(db *gorm.DB, logger *zap.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:             db,
		logger:         logger.Named("submission_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SubmissionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&SubmissionLog{})
}

// SaveLog persists a submission log entry.
func (r *SubmissionRepository) SaveLog(ctx context.Context, log *SubmissionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.RequestID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// AggregateMetrics computes totals, success count and latency plus per-category
// and per-outcome counts.
func (r *SubmissionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	agg := &MetricsAggregation{}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&SubmissionLog{}).
			Select("COUNT(*) AS total_count, "+
				"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS success_count, "+
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms", OutcomeSuccess).
			Scan(agg).Error
	})
	if err != nil {
		return nil, err
	}

	if agg.ByCategory, err = r.countBy(ctx, "category"); err != nil {
		return nil, err
	}
	if agg.ByOutcome, err = r.countBy(ctx, "outcome"); err != nil {
		return nil, err
	}
	return agg, nil
}

func (r *SubmissionRepository) countBy(ctx context.Context, column string) (map[string]int64, error) {
	var rows []groupCount
	err := r.executeWithRetry(ctx, "repository.count_by_"+column, "", func() error {
		return r.db.WithContext(ctx).Model(&SubmissionLog{}).
			Select(column + " AS group_key, COUNT(*) AS count").
			Group(column).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Key] = row.Count
	}
	return counts, nil
}

func (r *SubmissionRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	opLogger := logging.WithOperation(r.logger, operation, requestID)
	backoff := r.initialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !logging.IsTransientError(err) {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}

	opLogger.Error("database operation failed", zap.Error(err))
	return logging.NewOperationError(operation, requestID, err)
}
