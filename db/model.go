package db

import (
	"time"

	"github.com/ecclesia-org/ecclesia/role"
	"github.com/ecclesia-org/ecclesia/session"
)

// ===========================
// MEMBER MODELS
// ===========================

// Member lifecycle states
const (
	StatusPending           = "pending"
	StatusActive            = "active"
	StatusSuspended         = "suspended"
	StatusRejected          = "rejected"
	StatusMinor             = "minor"
	StatusPendingActivation = "pending_activation"
)

// ValidStatus reports whether s is a known member status
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusRejected, StatusMinor, StatusPendingActivation:
		return true
	}
	return false
}

// User represents a registered member or administrator
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Role         role.Role  `json:"role_level"`
	Status       string     `json:"status"`

	// Organizational placement
	ProvinceID     int64 `json:"province_id,omitempty"`
	DioceseID      int64 `json:"diocese_id,omitempty"`
	ArchdeaconryID int64 `json:"archdeaconry_id,omitempty"`
	DeaneryID      int64 `json:"deanery_id,omitempty"`
	ParishID       int64 `json:"parish_id,omitempty"`

	// Metadata
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// For API responses (populated via JOINs)
	ParishName string `json:"parish_name,omitempty"`
}

// FullName returns "First Last"
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Scope returns the organizational ids of the user as session scope
func (u User) Scope() session.Scope {
	return session.Scope{
		ProvinceID:     u.ProvinceID,
		DioceseID:      u.DioceseID,
		ArchdeaconryID: u.ArchdeaconryID,
		DeaneryID:      u.DeaneryID,
		ParishID:       u.ParishID,
	}
}

// Identity returns what a session carries after this user logs in
func (u User) Identity() session.Identity {
	return session.Identity{UserID: u.ID, Role: u.Role, Scope: u.Scope()}
}

// AgeOn returns the user's age in whole years at t, or -1 without a birth date
func (u User) AgeOn(t time.Time) int {
	if u.DateOfBirth == nil {
		return -1
	}
	dob := *u.DateOfBirth
	age := t.Year() - dob.Year()
	if t.Month() < dob.Month() || (t.Month() == dob.Month() && t.Day() < dob.Day()) {
		age--
	}
	return age
}

// ===========================
// REQUEST MODELS
// ===========================

// LoginRequest is the login form
type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required"`
	ReturnTo string `json:"return_to" form:"return_to"`
}

// ChangeStatusRequest moves a member through the approval queue
type ChangeStatusRequest struct {
	Status string `json:"status" form:"status" binding:"required"`
	Reason string `json:"reason" form:"reason"`
}

// ChangeRoleRequest promotes or demotes a user
type ChangeRoleRequest struct {
	Role   string `json:"role_level" form:"role_level" binding:"required"`
	Reason string `json:"reason" form:"reason"`
}

// ChangePasswordRequest changes the caller's own password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" form:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" form:"new_password" binding:"required,min=8"`
}

// ActivateRequest redeems an activation link
type ActivateRequest struct {
	Token    string `json:"token" form:"token" binding:"required"`
	Password string `json:"password" form:"password" binding:"required,min=8"`
}

// ListMembersFilter narrows a member listing
type ListMembersFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}
