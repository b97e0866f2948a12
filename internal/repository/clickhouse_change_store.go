package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"KasPull/internal/domain/models"
	drepo "KasPull/internal/domain/repository"
	pkgch "KasPull/pkg/clickhouse"
	applogger "KasPull/pkg/logger"
)

const changesTable = "balance_changes"

// ChangeSchema creates the balance change log.
var ChangeSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + changesTable + ` (
        seq        UInt64,
        value      Float64,
        previous   Nullable(Float64),
        formatted  String,
        changed_at DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    ORDER BY changed_at`,
}

// CHChangeStore implements ChangeStore backed by ClickHouse.
type CHChangeStore struct {
	client *pkgch.Client
	db     *sql.DB
	l      *applogger.Logger
}

func NewCHChangeStore(ch *pkgch.Client, l *applogger.Logger) *CHChangeStore {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHChangeStore{client: ch, db: ch.DB(), l: l}
}

var _ drepo.ChangeStore = (*CHChangeStore)(nil)

// Init creates the table if needed.
func (s *CHChangeStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, ChangeSchema)
}

func (s *CHChangeStore) Append(ctx context.Context, c *models.BalanceChange) error {
	q := fmt.Sprintf("INSERT INTO %s (seq, value, previous, formatted, changed_at) VALUES (?, ?, ?, ?, ?)", changesTable)
	var prev sql.NullFloat64
	if c.Previous != nil {
		prev = sql.NullFloat64{Float64: *c.Previous, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, q, c.Seq, c.Value, prev, c.Formatted, c.At.UTC()); err != nil {
		s.l.Error("clickhouse append change failed",
			applogger.Uint64("seq", c.Seq),
			applogger.Float64("value", c.Value),
			applogger.Error(err),
		)
		return fmt.Errorf("append change: %w", err)
	}
	return nil
}

// Recent returns the newest changes first.
func (s *CHChangeStore) Recent(ctx context.Context, limit int) ([]models.BalanceChange, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT seq, value, previous, formatted, changed_at
        FROM %s
        ORDER BY changed_at DESC
        LIMIT ?`, changesTable)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		s.l.Error("clickhouse recent changes query error", applogger.Int("limit", limit), applogger.Error(err))
		return nil, fmt.Errorf("recent changes: %w", err)
	}
	defer rows.Close()

	out := make([]models.BalanceChange, 0, limit)
	for rows.Next() {
		var (
			c    models.BalanceChange
			prev sql.NullFloat64
		)
		if err := rows.Scan(&c.Seq, &c.Value, &prev, &c.Formatted, &c.At); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if prev.Valid {
			p := prev.Float64
			c.Previous = &p
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse recent changes",
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (s *CHChangeStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *CHChangeStore) Close() error {
	return s.client.Close()
}
