package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/metrics"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/traces"
)

// Operation names used for spans, metrics and logs.
const (
	opAnalyze     = "analyze_user_behavior"
	opGetAnalysis = "get_latest_behavior_analysis"
	opLearn       = "learn_from_under_saving"
	opAssess      = "assess_financial_risks"
	opRecommend   = "generate_adaptive_recommendations"
	opHistory     = "snapshot_history"
	opRecord      = "record_event"
	opRefresh     = "refresh_if_stale"
)

// begin opens a span for op and returns a finisher that records the
// outcome. Failures are logged once here with their stage.
func (s *Service) begin(ctx context.Context, op, userID string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "engine."+op, traces.Operation(op), traces.UserID(userID))

	return ctx, func(err error) {
		defer span.End()
		metrics.EngineOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.EngineOperationsTotal.WithLabelValues(op, "success").Inc()
			return
		}

		result := "error"
		if errors.Is(err, ErrValidation) {
			result = "invalid"
		}
		stage := StageOf(err)
		metrics.EngineOperationsTotal.WithLabelValues(op, result).Inc()
		metrics.EngineStageFailuresTotal.WithLabelValues(op, string(stage)).Inc()

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(traces.Stage(string(stage)))

		level := s.logger.Warn
		if result == "invalid" {
			level = s.logger.Debug
		}
		level("engine operation failed",
			"operation", op,
			"user_id", userID,
			"stage", stage,
			"error", err)
	}
}
