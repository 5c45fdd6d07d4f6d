package usecase

import "context"

// MetricsSummary represents aggregated detection insights.
type MetricsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	CompletedRequests int64   `json:"completed_requests"`
	RejectedRequests  int64   `json:"rejected_requests"`
	CompletionRate    float64 `json:"completion_rate"`
	AverageAIScore    float64 `json:"average_ai_score"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// GetMetricsSummary aggregates detection metrics from persisted logs. The
// score average only covers completed runs; rejected and failed ones carry
// the neutral sentinel and would drag it toward 0.5.
func (uc *DetectionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:     aggregation.TotalCount,
		CompletedRequests: aggregation.CompletedCount,
		RejectedRequests:  aggregation.RejectedCount,
		AverageAIScore:    aggregation.AverageScore,
		AverageDurationMs: aggregation.AverageDurationMs,
	}

	if aggregation.TotalCount > 0 {
		summary.CompletionRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
