package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/streamscribe/streamscribe/internal/config"
)

// Store is the SQLite-backed usage ledger: per-user plan tiers and per-period
// streaming counters. Monthly minute budgets per tier come from config.
type Store struct {
	db    *sql.DB
	cfg   config.QuotaConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the ledger according to config.
func Open(ctx context.Context, cfg config.QuotaConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.LedgerPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.LedgerPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS user_plans (
    user_id TEXT PRIMARY KEY,
    tier TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS usage_counters (
    user_id TEXT NOT NULL,
    period TEXT NOT NULL,
    streaming_seconds REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY(user_id, period)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) period() string {
	return s.clock().UTC().Format("2006-01")
}

// SetPlan assigns a tier to a user. Unknown tiers are rejected so the ledger
// never holds a tier the config cannot price.
func (s *Store) SetPlan(ctx context.Context, userID, tier string) error {
	if _, ok := s.cfg.Tiers[tier]; !ok {
		return fmt.Errorf("unknown tier %q", tier)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_plans(user_id, tier, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET tier=excluded.tier, updated_at=excluded.updated_at`,
		userID, tier, s.clock().UTC())
	return err
}

func (s *Store) tierFor(ctx context.Context, userID string) (config.Tier, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT tier FROM user_plans WHERE user_id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		name = s.cfg.DefaultTier
	} else if err != nil {
		return config.Tier{}, err
	}
	tier, ok := s.cfg.Tiers[name]
	if !ok {
		tier = s.cfg.Tiers[s.cfg.DefaultTier]
	}
	return tier, nil
}

func (s *Store) usedSeconds(ctx context.Context, userID string) (float64, error) {
	var seconds float64
	err := s.db.QueryRowContext(ctx,
		`SELECT streaming_seconds FROM usage_counters WHERE user_id = ? AND period = ?`,
		userID, s.period()).Scan(&seconds)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seconds, err
}

func (s *Store) CheckRealTimeStreamingUsage(ctx context.Context, userID string, minutes float64) (Allowance, error) {
	tier, err := s.tierFor(ctx, userID)
	if err != nil {
		return Allowance{}, fmt.Errorf("look up plan: %w", err)
	}
	used, err := s.usedSeconds(ctx, userID)
	if err != nil {
		return Allowance{}, fmt.Errorf("read usage counter: %w", err)
	}

	remaining := tier.MonthlyMinutes - used/60
	if remaining < 0 {
		remaining = 0
	}
	if remaining < minutes {
		return Allowance{
			Allowed:          false,
			RemainingMinutes: remaining,
			Reason:           "real-time streaming limit exceeded",
		}, nil
	}
	return Allowance{Allowed: true, RemainingMinutes: remaining}, nil
}

func (s *Store) RecordRealTimeStreamingUsage(ctx context.Context, userID string, minutes float64) error {
	if minutes < 0 {
		minutes = 0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_counters(user_id, period, streaming_seconds, updated_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(user_id, period) DO UPDATE SET
		   streaming_seconds = streaming_seconds + excluded.streaming_seconds,
		   updated_at = excluded.updated_at`,
		userID, s.period(), minutes*60, s.clock().UTC())
	return err
}

func (s *Store) PremiumStreaming(ctx context.Context, userID string) (bool, error) {
	tier, err := s.tierFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return tier.PremiumStreaming, nil
}
