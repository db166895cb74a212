package usecase

import (
	"context"
	"errors"
)

// ErrMetricsDisabled is returned when no submission store is configured.
var ErrMetricsDisabled = errors.New("submission metrics are not configured")

// MetricsSummary represents aggregated submission insights.
type MetricsSummary struct {
	TotalSubmissions      int64            `json:"total_submissions"`
	SuccessfulSubmissions int64            `json:"successful_submissions"`
	SuccessRate           float64          `json:"success_rate"`
	AverageLatencyMs      float64          `json:"average_latency_ms"`
	ByCategory            map[string]int64 `json:"by_category"`
	ByOutcome             map[string]int64 `json:"by_outcome"`
}

// GetMetricsSummary aggregates submission outcomes from persisted logs.
func (uc *ScreeningUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.recorder == nil {
		return nil, ErrMetricsDisabled
	}

	aggregation, err := uc.recorder.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSubmissions:      aggregation.TotalCount,
		SuccessfulSubmissions: aggregation.SuccessCount,
		AverageLatencyMs:      aggregation.AverageLatencyMs,
		ByCategory:            aggregation.ByCategory,
		ByOutcome:             aggregation.ByOutcome,
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
