// Package ratelimit bounds repeated sensitive actions per identifier using a
// trailing window persisted in the login_attempts table.
//
// The limiter fails open: a storage failure allows the attempt. The
// permission checker fails closed.
package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/internal/metrics"
)

// Limiter counts attempts in the relational store
type Limiter struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter over db
func New(db *sql.DB, opts ...Option) *Limiter {
	l := &Limiter{db: db, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds an identifier scoped to an action, e.g. Key("login", "ip", "1.2.3.4")
func Key(action, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s", action, kind, value)
}

// Check reports whether one more attempt for identifier is allowed within the
// trailing window. An allowed attempt is recorded; a denied one is not.
func (l *Limiter) Check(ctx context.Context, identifier string, maxAttempts int, window time.Duration) bool {
	cutoff := l.now().Add(-window)

	// housekeeping for every identifier, not just this one
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE attempted_at < $1`, cutoff,
	); err != nil {
		return l.failOpen(identifier, "purge", err)
	}

	var count int
	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM login_attempts WHERE identifier = $1 AND attempted_at >= $2`,
		identifier, cutoff,
	).Scan(&count); err != nil {
		return l.failOpen(identifier, "count", err)
	}

	if count >= maxAttempts {
		logging.Warn().
			Str("identifier", identifier).
			Int("attempts", count).
			Dur("window", window).
			Msg("rate limit exceeded")
		metrics.RecordRateLimit(identifier, "denied")
		return false
	}

	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO login_attempts (identifier, attempted_at) VALUES ($1, $2)`,
		identifier, l.now(),
	); err != nil {
		return l.failOpen(identifier, "record", err)
	}
	metrics.RecordRateLimit(identifier, "allowed")
	return true
}

// Reset forgets every attempt for identifier, e.g. after a successful login
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE identifier = $1`, identifier,
	); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

func (l *Limiter) failOpen(identifier, step string, err error) bool {
	logging.Error().
		Err(err).
		Str("identifier", identifier).
		Str("step", step).
		Msg("rate limiter storage failure, allowing attempt")
	metrics.RecordRateLimit(identifier, "fail_open")
	return true
}
