package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ecclesia-org/ecclesia/audit"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/internal/logging"
	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

const (
	adultAge          = 18
	activationIssuer  = "ecclesia"
	activationPurpose = "account_activation"
	defaultTokenTTL   = 7 * 24 * time.Hour
)

var (
	ErrActivationDisabled     = errors.New("account activation is not configured")
	ErrInvalidActivationToken = errors.New("invalid or expired activation link")
)

// ActivationClaims is the payload of an activation link token
type ActivationClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// ActivationService turns members registered as minors into adult accounts
// once they come of age
type ActivationService struct {
	PG        *sql.DB
	Audit     ActivityLogger
	Notifier  Notifier
	PublicURL string
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewActivationService(pg *sql.DB, logger ActivityLogger, notifier Notifier, secret string, ttl time.Duration, publicURL string) *ActivationService {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &ActivationService{
		PG:        pg,
		Audit:     logger,
		Notifier:  notifier,
		PublicURL: strings.TrimRight(publicURL, "/"),
		secret:    []byte(secret),
		ttl:       ttl,
		now:       time.Now,
	}
}

type minor struct {
	id        int64
	email     string
	firstName string
	lastName  string
}

// Sweep moves every minor who has turned 18 by now to pending_activation and
// mails them an activation link. It returns how many were moved. Failures on
// one member do not stop the others.
func (s *ActivationService) Sweep(ctx context.Context, now time.Time) (int, error) {
	if len(s.secret) == 0 {
		return 0, ErrActivationDisabled
	}
	cutoff := now.AddDate(-adultAge, 0, 0)

	rows, err := s.PG.QueryContext(ctx, `
		SELECT id, email, first_name, last_name
		FROM users
		WHERE status = $1 AND date_of_birth IS NOT NULL AND date_of_birth <= $2
		ORDER BY id
	`, db.StatusMinor, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find coming-of-age members: %w", err)
	}
	var due []minor
	for rows.Next() {
		var m minor
		if err := rows.Scan(&m.id, &m.email, &m.firstName, &m.lastName); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan member: %w", err)
		}
		due = append(due, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("find coming-of-age members: %w", err)
	}

	moved := 0
	for _, m := range due {
		if err := s.issue(ctx, m, now); err != nil {
			logging.Error().Err(err).Int64("user_id", m.id).Msg("activation issue failed")
			continue
		}
		moved++
	}
	return moved, nil
}

func (s *ActivationService) issue(ctx context.Context, m minor, now time.Time) error {
	jti := uuid.NewString()
	token, err := s.sign(m.id, jti, now)
	if err != nil {
		return err
	}

	res, err := s.PG.ExecContext(ctx, `
		UPDATE users SET status = $1, activation_token_id = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, db.StatusPendingActivation, jti, now, m.id, db.StatusMinor)
	if err != nil {
		return fmt.Errorf("mark pending activation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("member %d is no longer a minor", m.id)
	}

	s.Audit.Log(ctx, nil, audit.Entry{
		Action:   audit.ActivationIssued,
		Table:    "users",
		RecordID: m.id,
		Details:  map[string]any{"token_id": jti, "expires_at": now.Add(s.ttl).UTC().Format(time.RFC3339)},
	})

	if s.Notifier != nil && m.email != "" {
		link := s.PublicURL + "/activate?token=" + url.QueryEscape(token)
		body := fmt.Sprintf("Dear %s,\n\nYou can now activate your own account:\n\n%s\n\nThe link expires in %d days.\n",
			strings.TrimSpace(m.firstName+" "+m.lastName), link, int(s.ttl.Hours()/24))
		if err := s.Notifier.Notify(ctx, m.email, "Activate your account", body); err != nil {
			logging.Warn().Err(err).Int64("user_id", m.id).Msg("activation email failed")
		}
	}
	return nil
}

func (s *ActivationService) sign(userID int64, jti string, now time.Time) (string, error) {
	claims := ActivationClaims{
		Purpose: activationPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    activationIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign activation token: %w", err)
	}
	return signed, nil
}

// Verify checks an activation token and returns its user id and token id
func (s *ActivationService) Verify(token string) (int64, string, error) {
	if len(s.secret) == 0 {
		return 0, "", ErrActivationDisabled
	}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), &ActivationClaims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(activationIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, "", ErrInvalidActivationToken
	}
	claims, ok := parsed.Claims.(*ActivationClaims)
	if !ok || !parsed.Valid || claims.Purpose != activationPurpose || claims.ID == "" {
		return 0, "", ErrInvalidActivationToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", ErrInvalidActivationToken
	}
	return userID, claims.ID, nil
}

// Activate redeems token, sets the member's password and makes them active.
// A token works once: redeeming clears the stored token id.
func (s *ActivationService) Activate(ctx context.Context, token, password string) (int64, error) {
	userID, jti, err := s.Verify(token)
	if err != nil {
		return 0, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	res, err := s.PG.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $1, status = $2, activation_token_id = NULL, updated_at = $3
		WHERE id = $4 AND status = $5 AND activation_token_id = $6
	`, hash, db.StatusActive, s.now(), userID, db.StatusPendingActivation, jti)
	if err != nil {
		return 0, fmt.Errorf("activate account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrInvalidActivationToken
	}

	s.Audit.Log(ctx, &session.Session{UserID: userID, Role: role.Member}, audit.Entry{
		Action:   audit.AccountActivated,
		Table:    "users",
		RecordID: userID,
		Details:  map[string]any{"token_id": jti},
	})
	return userID, nil
}
