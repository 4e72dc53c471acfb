package usecase

import (
	"log/slog"

	"HeadlineBot/internal/domain"
	"HeadlineBot/internal/metrics"
)

// observeSweep logs the one-line summary and feeds the sweep metrics.
func observeSweep(logger *slog.Logger, summary *domain.BatchSummary) {
	activity := string(summary.Activity)

	result := "completed"
	if summary.Aborted {
		result = "aborted"
	}
	metrics.SweepRunsTotal.WithLabelValues(activity, result).Inc()
	metrics.SweepDuration.WithLabelValues(activity).Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	metrics.SweepResultsTotal.WithLabelValues(activity, string(domain.OutcomeSucceeded)).Add(float64(summary.Succeeded))
	metrics.SweepResultsTotal.WithLabelValues(activity, string(domain.OutcomeFailed)).Add(float64(summary.Failed))
	metrics.SweepResultsTotal.WithLabelValues(activity, string(domain.OutcomeSkipped)).Add(float64(summary.Skipped))

	logger.Info("sweep finished",
		"activity", activity,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"aborted", summary.Aborted,
	)
}
