package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ecclesia-org/ecclesia/authz"
	"github.com/ecclesia-org/ecclesia/db"
	"github.com/ecclesia-org/ecclesia/impersonation"
	"github.com/ecclesia-org/ecclesia/session"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountInactive    = errors.New("account is not active")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const userColumns = `u.id, u.email, u.password_hash, u.first_name, u.last_name, u.date_of_birth,
	u.role_level, u.status,
	COALESCE(u.province_id, 0), COALESCE(u.diocese_id, 0), COALESCE(u.archdeaconry_id, 0),
	COALESCE(u.deanery_id, 0), COALESCE(u.parish_id, 0),
	u.created_at, u.updated_at, COALESCE(p.name, '')`

const userFrom = ` FROM users u LEFT JOIN parishes p ON p.id = u.parish_id`

type UserService struct {
	PG *sql.DB
}

func NewUserService(pg *sql.DB) *UserService {
	return &UserService{PG: pg}
}

var _ impersonation.UserLookup = (*UserService)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (db.User, error) {
	var u db.User
	var dob sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &dob,
		&u.Role, &u.Status,
		&u.ProvinceID, &u.DioceseID, &u.ArchdeaconryID, &u.DeaneryID, &u.ParishID,
		&u.CreatedAt, &u.UpdatedAt, &u.ParishName)
	if dob.Valid {
		t := dob.Time
		u.DateOfBirth = &t
	}
	return u, err
}

func (s *UserService) findOne(ctx context.Context, where string, arg any) (db.User, error) {
	u, err := scanUser(s.PG.QueryRowContext(ctx, `SELECT `+userColumns+userFrom+` WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return db.User{}, ErrUserNotFound
	}
	if err != nil {
		return db.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// Find loads a user by id
func (s *UserService) Find(ctx context.Context, id int64) (db.User, error) {
	return s.findOne(ctx, `u.id = $1`, id)
}

// FindByEmail loads a user by email, case-insensitively
func (s *UserService) FindByEmail(ctx context.Context, email string) (db.User, error) {
	return s.findOne(ctx, `LOWER(u.email) = LOWER($1)`, strings.TrimSpace(email))
}

// Identity resolves the session identity of a user for impersonation
func (s *UserService) Identity(ctx context.Context, userID int64) (session.Identity, error) {
	u, err := s.Find(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return session.Identity{}, impersonation.ErrNotFound
	}
	if err != nil {
		return session.Identity{}, err
	}
	return u.Identity(), nil
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizeTiming spends one bcrypt comparison so unknown emails take as long
// as wrong passwords
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Authenticate checks email and password. Unknown email and wrong password
// both return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (db.User, error) {
	u, err := s.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		equalizeTiming(password)
		return db.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return db.User{}, err
	}
	if u.PasswordHash == "" {
		equalizeTiming(password)
		return db.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return db.User{}, ErrInvalidCredentials
	}
	if u.Status != db.StatusActive {
		return u, ErrAccountInactive
	}
	return u, nil
}

// HashPassword creates a bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword reports whether password matches the stored hash of userID
func (s *UserService) CheckPassword(ctx context.Context, userID int64, password string) (bool, error) {
	u, err := s.Find(ctx, userID)
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil, nil
}

// UpdatePassword stores a new bcrypt hash for userID
func (s *UserService) UpdatePassword(ctx context.Context, userID int64, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	res, err := s.PG.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ListVisible lists the users sess may see, narrowed by f. A session without
// a usable scope sees nobody.
func (s *UserService) ListVisible(ctx context.Context, sess *session.Session, f db.ListMembersFilter) ([]db.User, error) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Status != "" {
		conds = append(conds, "u.status = "+next(f.Status))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		ph := next("%" + q + "%")
		conds = append(conds, "(u.email ILIKE "+ph+" OR u.first_name ILIKE "+ph+" OR u.last_name ILIKE "+ph+")")
	}
	return s.listScoped(ctx, sess, conds, args, f.Limit, f.Offset)
}

// PendingApprovals lists registrations awaiting approval inside the caller's scope
func (s *UserService) PendingApprovals(ctx context.Context, sess *session.Session) ([]db.User, error) {
	return s.listScoped(ctx, sess, []string{"u.status = $1"}, []any{db.StatusPending}, maxListLimit, 0)
}

// CountPending counts registrations awaiting approval inside the caller's scope
func (s *UserService) CountPending(ctx context.Context, sess *session.Session) (int, error) {
	pred, err := authz.BuildScopePredicate(sess, "u", 1)
	if errors.Is(err, authz.ErrNoScope) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	args := append([]any{db.StatusPending}, pred.Args...)
	var n int
	if err := s.PG.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users u WHERE u.status = $1`+pred.And(), args...,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *UserService) listScoped(ctx context.Context, sess *session.Session, conds []string, args []any, limit, offset int) ([]db.User, error) {
	pred, err := authz.BuildScopePredicate(sess, "u", len(args))
	if errors.Is(err, authz.ErrNoScope) {
		return []db.User{}, nil
	}
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + userFrom + ` WHERE TRUE`
	for _, c := range conds {
		query += " AND " + c
	}
	query += pred.And()
	args = append(args, pred.Args...)

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" ORDER BY u.last_name, u.first_name, u.id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []db.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
