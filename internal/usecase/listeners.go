package usecase

import (
	"context"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	"KasPull/internal/service/format"
	"KasPull/pkg/logger"
)

// LogListener writes one line per confirmed change and per failed poll.
type LogListener struct {
	log *logger.Logger
}

func NewLogListener(l *logger.Logger) *LogListener {
	return &LogListener{log: l}
}

func (l *LogListener) OnBalanceChanged(_ context.Context, c models.BalanceChange) {
	fields := []logger.Field{
		logger.Uint64("seq", c.Seq),
		logger.Float64("value", c.Value),
		logger.String("formatted", c.Formatted),
		logger.String("rupiah", format.Rupiah(c.Value)),
		logger.Time("at", c.At),
	}
	if c.Previous != nil {
		fields = append(fields, logger.Float64("previous", *c.Previous))
	}
	l.log.Info("balance updated", fields...)
}

func (l *LogListener) OnPollFailed(_ context.Context, f models.PollFailure) {
	l.log.Debug("poll failure announced",
		logger.String("reason", f.Reason),
		logger.Int("consecutive_errors", f.ConsecutiveErrors),
		logger.String("connectivity", string(f.Connectivity)),
	)
}

// MetricsListener mirrors the stable value into metrics.
type MetricsListener struct {
	metrics drepo.Metrics
}

func NewMetricsListener(m drepo.Metrics) *MetricsListener {
	return &MetricsListener{metrics: m}
}

func (l *MetricsListener) OnBalanceChanged(_ context.Context, c models.BalanceChange) {
	l.metrics.RecordStableValue(c.Value)
	l.metrics.RecordConfirmation()
}
