package orchestrator

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type meters struct {
	turnsStarted   metric.Int64Counter
	turnsCompleted metric.Int64Counter
	turnsFailed    metric.Int64Counter
}

func newMeters(log *slog.Logger) meters {
	meter := otel.Meter("github.com/murmurlabs/murmur-core/orchestrator")
	var m meters
	var err error
	if m.turnsStarted, err = meter.Int64Counter("murmur_turns_started_total",
		metric.WithDescription("Recording sessions opened")); err != nil {
		log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return meters{}
	}
	m.turnsCompleted, _ = meter.Int64Counter("murmur_turns_completed_total",
		metric.WithDescription("Turns that reached a final response"))
	m.turnsFailed, _ = meter.Int64Counter("murmur_turns_failed_total",
		metric.WithDescription("Turns ended by transcription, connectivity, or remote errors"))
	return m
}
