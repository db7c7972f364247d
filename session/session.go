// Package session keeps the server-side session state of a browser client and
// guards it against fixation, hijacking and staleness.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ecclesia-org/ecclesia/role"
)

var (
	// ErrNotFound is returned by a Store when no session exists for an id
	ErrNotFound = errors.New("session: not found")

	// ErrSessionInvalid covers sessions that never existed or were rejected
	ErrSessionInvalid = errors.New("session: invalid")

	// ErrSessionHijackSuspected is returned when the client fingerprint changed
	ErrSessionHijackSuspected = fmt.Errorf("%w: hijack suspected", ErrSessionInvalid)

	// ErrSessionExpired is returned when the absolute lifetime was exceeded.
	// Idle expiry wraps it so errors.Is(err, ErrSessionExpired) holds for both.
	ErrSessionExpired = errors.New("session: expired")

	// ErrSessionIdle is returned when the inactivity timeout was exceeded
	ErrSessionIdle = fmt.Errorf("%w: inactive", ErrSessionExpired)
)

// Scope holds the organizational unit ids a user is bound to.
// Only the id matching the session's role level is authoritative.
type Scope struct {
	ProvinceID     int64 `json:"province_id,omitempty"`
	DioceseID      int64 `json:"diocese_id,omitempty"`
	ArchdeaconryID int64 `json:"archdeaconry_id,omitempty"`
	DeaneryID      int64 `json:"deanery_id,omitempty"`
	ParishID       int64 `json:"parish_id,omitempty"`
}

// ID returns the unit id for a level, 0 when unset
func (s Scope) ID(level role.Level) int64 {
	switch level {
	case role.LevelProvince:
		return s.ProvinceID
	case role.LevelDiocese:
		return s.DioceseID
	case role.LevelArchdeaconry:
		return s.ArchdeaconryID
	case role.LevelDeanery:
		return s.DeaneryID
	case role.LevelParish:
		return s.ParishID
	default:
		return 0
	}
}

// Session is the state carried between requests of one browser client.
// It is passed explicitly to every component that needs the caller identity.
type Session struct {
	ID string `json:"id"`

	UserID int64     `json:"user_id,omitempty"`
	Role   role.Role `json:"role_level,omitempty"`
	Scope  Scope     `json:"scope"`

	CSRFToken string `json:"csrf_token,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	UserAgent    string    `json:"user_agent"`
	IP           string    `json:"ip"`

	// Impersonation markers; set only while a super admin acts as someone else
	Impersonating  bool      `json:"impersonating,omitempty"`
	OriginalUserID int64     `json:"original_user_id,omitempty"`
	OriginalRole   role.Role `json:"original_role_level,omitempty"`
	OriginalScope  Scope     `json:"original_scope,omitempty"`

	// Flash carries a one-shot message (e.g. an access-denied reason) to the next page
	Flash string `json:"flash,omitempty"`
}

// LoggedIn reports whether a user is attached to the session
func (s *Session) LoggedIn() bool {
	return s != nil && s.UserID != 0
}

// ScopeID returns the authoritative scope id for the session's role
func (s *Session) ScopeID() int64 {
	return s.Scope.ID(s.Role.ScopeLevel())
}

// Identity is what gets written into a session on login
type Identity struct {
	UserID int64
	Role   role.Role
	Scope  Scope
}

// SetIdentity binds a user to the session
func (s *Session) SetIdentity(id Identity) {
	s.UserID = id.UserID
	s.Role = id.Role
	s.Scope = id.Scope
}

// TakeFlash returns and clears the flash message
func (s *Session) TakeFlash() string {
	msg := s.Flash
	s.Flash = ""
	return msg
}

// clear wipes all state, keeping nothing from the previous owner
func (s *Session) clear() {
	*s = Session{}
}
