package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/health-screen/internal/logging"
	"github.com/example/health-screen/internal/prediction"
	"github.com/example/health-screen/internal/predictclient"
	"github.com/example/health-screen/internal/repository"
	"github.com/example/health-screen/internal/session"
)

// DefaultResultTTL is how long a result view survives without being discarded.
const DefaultResultTTL = 15 * time.Minute

// ErrResultNotFound covers missing, expired and foreign result views.
var ErrResultNotFound = errors.New("result not found")

// SubmissionRecorder defines the persistence operations needed for metrics.
type SubmissionRecorder interface {
	SaveLog(ctx context.Context, log *repository.SubmissionLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// ResultView is the transient state behind the results page.
type ResultView struct {
	RequestID string              `json:"request_id"`
	Owner     string              `json:"owner"`
	Category  prediction.Category `json:"category"`
	Result    prediction.Result   `json:"result"`
	CreatedAt time.Time           `json:"created_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// ScreeningUseCase runs form submissions and keeps their result views.
type ScreeningUseCase struct {
	forms          *session.Registry
	cache          Cache
	recorder       SubmissionRecorder
	logger         *zap.Logger
	resultTTL      time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// NewScreeningUseCase wires the use case. recorder may be nil to disable metrics.
func NewScreeningUseCase(forms *session.Registry, cache Cache, recorder SubmissionRecorder, resultTTL time.Duration, logger *zap.Logger) *ScreeningUseCase {
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &ScreeningUseCase{
		forms:          forms,
		cache:          cache,
		recorder:       recorder,
		logger:         logger.Named("screening_usecase"),
		resultTTL:      resultTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

func resultKey(requestID string) string {
	return fmt.Sprintf("screening:%s", requestID)
}

// Submit runs one submission on the owner's form and stores the result view.
func (uc *ScreeningUseCase) Submit(ctx context.Context, owner string, img *prediction.Image, category prediction.Category) (*ResultView, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.submit", requestID)
	if category == "" {
		category = prediction.DefaultCategory
	}

	form := uc.forms.Acquire(owner)
	defer uc.forms.Release(owner)

	started := uc.now()
	result, err := form.SubmitImage(ctx, category, img)
	latency := uc.now().Sub(started)

	if errors.Is(err, session.ErrSubmissionInFlight) {
		opLogger.Info("submission refused while another is in flight", zap.String("owner", owner))
		return nil, err
	}
	uc.record(ctx, opLogger, &repository.SubmissionLog{
		RequestID: requestID,
		Owner:     owner,
		Category:  string(category),
		ImageSize: img.Size(),
		LatencyMs: latency.Milliseconds(),
		CreatedAt: started.UTC(),
	}, err)
	if err != nil {
		logSubmitFailure(opLogger, err)
		return nil, err
	}

	createdAt := uc.now().UTC()
	view := &ResultView{
		RequestID: requestID,
		Owner:     owner,
		Category:  category,
		Result:    *result,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(uc.resultTTL),
	}

	serialized, err := json.Marshal(view)
	if err != nil {
		opLogger.Error("failed to serialize result view", zap.Error(err))
		return nil, logging.NewOperationError("usecase.serialize_result", requestID, err)
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, resultKey(requestID), string(serialized), uc.resultTTL)
	}); err != nil {
		opLogger.Error("failed to store result view", zap.Error(err))
		return nil, err
	}

	opLogger.Info("screening completed",
		zap.String("category", string(view.Category)),
		zap.String("condition", view.Result.Condition),
		zap.Float64("confidence", view.Result.Confidence),
		zap.Duration("latency", latency),
	)
	return view, nil
}

// GetResult loads the owner's result view.
func (uc *ScreeningUseCase) GetResult(ctx context.Context, owner, requestID string) (*ResultView, error) {
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", resultKey(requestID))
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}

	var view ResultView
	if err := json.Unmarshal([]byte(cached), &view); err != nil {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		return nil, ErrResultNotFound
	}
	if view.Owner != owner {
		return nil, ErrResultNotFound
	}
	return &view, nil
}

// DiscardResult drops the owner's result view, as leaving the results page does.
func (uc *ScreeningUseCase) DiscardResult(ctx context.Context, owner, requestID string) error {
	if _, err := uc.GetResult(ctx, owner, requestID); err != nil {
		return err
	}
	return uc.withRedisRetry(ctx, requestID, "cache.del.result", func() error {
		_, err := uc.cache.Del(ctx, resultKey(requestID))
		return err
	})
}

func (uc *ScreeningUseCase) record(ctx context.Context, opLogger *zap.Logger, log *repository.SubmissionLog, err error) {
	if uc.recorder == nil {
		return
	}
	log.Outcome, log.StatusCode = classifyOutcome(err)
	if saveErr := uc.recorder.SaveLog(ctx, log); saveErr != nil {
		opLogger.Warn("failed to record submission", zap.Error(saveErr))
	}
}

func classifyOutcome(err error) (repository.Outcome, int) {
	var (
		validationErr *predictclient.ValidationError
		connErr       *predictclient.ConnectionError
		serverErr     *predictclient.ServerError
	)
	switch {
	case err == nil:
		return repository.OutcomeSuccess, 200
	case errors.As(err, &validationErr):
		return repository.OutcomeValidation, 0
	case errors.As(err, &connErr):
		return repository.OutcomeConnection, 0
	case errors.As(err, &serverErr):
		return repository.OutcomeServer, serverErr.StatusCode
	default:
		return repository.OutcomeFailure, 0
	}
}

func logSubmitFailure(opLogger *zap.Logger, err error) {
	var (
		validationErr *predictclient.ValidationError
		serverErr     *predictclient.ServerError
	)
	switch {
	case errors.As(err, &validationErr):
		opLogger.Info("submission rejected", zap.String("reason", validationErr.Reason))
	case errors.As(err, &serverErr):
		opLogger.Warn("prediction backend failed", zap.Int("status", serverErr.StatusCode))
	default:
		opLogger.Error("submission failed", zap.Error(err))
	}
}

func (uc *ScreeningUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransientError(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ScreeningUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
