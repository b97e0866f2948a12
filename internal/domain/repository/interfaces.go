package repository

import (
	"context"
	"time"

	"KasPull/internal/domain/models"
)

// SourceFetcher retrieves the raw text of the upstream balance cell.
// A non-nil error means the request never produced a response.
type SourceFetcher interface {
	FetchRaw(ctx context.Context, cacheBust bool) (body string, status int, err error)
}

// ChangeStore keeps the log of confirmed balance changes.
type ChangeStore interface {
	Append(ctx context.Context, c *models.BalanceChange) error
	Recent(ctx context.Context, limit int) ([]models.BalanceChange, error)
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher forwards confirmed changes to a message broker.
type EventPublisher interface {
	Publish(ctx context.Context, c *models.BalanceChange) error
	Close() error
}

// SnapshotStore remembers the last announced change across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, c *models.BalanceChange) error
	Load(ctx context.Context) (*models.BalanceChange, error)
	Clear(ctx context.Context) error
}

type Metrics interface {
	RecordPoll(result string, seconds float64)
	RecordError(kind string)
	RecordStableValue(value float64)
	RecordConfirmation()
	RecordSchedule(consecutiveErrors int, nextDelay time.Duration)
	RecordEventDropped(sink string)
	RecordLatency(op string, seconds float64)
}
