// Package authz answers "may this session do X to Y" for the registry.
//
// Two layers decide together:
//   - a static capability table per resource type, role and action
//   - scope containment: a concrete resource id must sit inside the caller's
//     organizational subtree (see ScopeResolver)
//
// Role-level allow is necessary but not sufficient.
package authz

import (
	"errors"
	"net/http"

	"github.com/ecclesia-org/ecclesia/role"
)

// Action represents an operation that can be performed on a resource
type Action string

const (
	ActionView           Action = "view"            // Read access
	ActionCreate         Action = "create"          // Create new records
	ActionUpdate         Action = "update"          // Modify existing records
	ActionDelete         Action = "delete"          // Remove records
	ActionApprove        Action = "approve"         // Work the registration approval queue
	ActionManage         Action = "manage"          // Change role or status of others
	ActionChangePassword Action = "change_password" // Change own credentials
	ActionImpersonate    Action = "impersonate"     // Act as another user
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceUser         ResourceType = "user"
	ResourceParish       ResourceType = "parish"
	ResourceDeanery      ResourceType = "deanery"
	ResourceArchdeaconry ResourceType = "archdeaconry"
	ResourceDiocese      ResourceType = "diocese"
	ResourceActivityLog  ResourceType = "activity_log"
)

var (
	// ErrPermissionDenied is returned by Require when the check fails
	ErrPermissionDenied = errors.New("permission denied")

	// ErrLoginRequired is returned by Require when no user is logged in
	ErrLoginRequired = errors.New("login required")

	// ErrNoScope means the session is bound to nothing it can see.
	// Callers must treat it as an empty result, never as unrestricted.
	ErrNoScope = errors.New("no scope")

	// ErrUnknownResource is returned for a resource type without a join path
	ErrUnknownResource = errors.New("unknown resource type")
)

// DeniedError carries a human readable reason for the access-denied page
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "permission denied: " + e.Reason }

func (e *DeniedError) Unwrap() error { return ErrPermissionDenied }

type permissionSet map[role.Role]map[Action]bool

// full grants every action
var full = map[Action]bool{
	ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true,
	ActionApprove: true, ActionManage: true, ActionChangePassword: true,
}

// Permissions is the capability table. Anything not listed is denied.
var Permissions = map[ResourceType]permissionSet{
	ResourceUser: {
		role.SuperAdmin: full,
		role.NationalAdmin: {
			ActionView: true, ActionCreate: true, ActionUpdate: true,
			ActionApprove: true, ActionManage: true, ActionChangePassword: true,
		},
		role.DioceseAdmin: {
			ActionView: true, ActionCreate: true, ActionUpdate: true,
			ActionApprove: true, ActionManage: true, ActionChangePassword: true,
		},
		role.ArchdeaconryAdmin: {
			ActionView: true, ActionCreate: true, ActionUpdate: true,
			ActionApprove: true, ActionManage: true, ActionChangePassword: true,
		},
		role.DeaneryAdmin: {
			ActionView: true, ActionCreate: true, ActionUpdate: true,
			ActionApprove: true, ActionManage: true, ActionChangePassword: true,
		},
		role.ParishAdmin: {
			ActionView: true, ActionCreate: true, ActionUpdate: true,
			ActionApprove: true, ActionManage: true, ActionChangePassword: true,
		},
		role.Member: {
			ActionView: true, ActionUpdate: true, ActionChangePassword: true,
		},
	},
	ResourceParish: {
		role.SuperAdmin:        full,
		role.NationalAdmin:     {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true},
		role.DioceseAdmin:      {ActionView: true, ActionCreate: true, ActionUpdate: true},
		role.ArchdeaconryAdmin: {ActionView: true, ActionCreate: true, ActionUpdate: true},
		role.DeaneryAdmin:      {ActionView: true, ActionUpdate: true},
		role.ParishAdmin:       {ActionView: true, ActionUpdate: true},
	},
	ResourceDeanery: {
		role.SuperAdmin:        full,
		role.NationalAdmin:     {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true},
		role.DioceseAdmin:      {ActionView: true, ActionCreate: true, ActionUpdate: true},
		role.ArchdeaconryAdmin: {ActionView: true, ActionCreate: true, ActionUpdate: true},
		role.DeaneryAdmin:      {ActionView: true, ActionUpdate: true},
	},
	ResourceArchdeaconry: {
		role.SuperAdmin:        full,
		role.NationalAdmin:     {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true},
		role.DioceseAdmin:      {ActionView: true, ActionCreate: true, ActionUpdate: true},
		role.ArchdeaconryAdmin: {ActionView: true, ActionUpdate: true},
	},
	ResourceDiocese: {
		role.SuperAdmin:    full,
		role.NationalAdmin: {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true},
		role.DioceseAdmin:  {ActionView: true, ActionUpdate: true},
	},
	ResourceActivityLog: {
		role.SuperAdmin:    {ActionView: true},
		role.NationalAdmin: {ActionView: true},
	},
}

// HasPermission checks the capability table only, without scope
func HasPermission(r role.Role, action Action, resource ResourceType) bool {
	if perms, ok := Permissions[resource]; ok {
		if rolePerms, ok := perms[r]; ok {
			return rolePerms[action]
		}
	}
	return false
}

// blockedWhileImpersonating lists actions refused outright during impersonation
func blockedWhileImpersonating(action Action, resource ResourceType) bool {
	switch {
	case action == ActionChangePassword:
		return true
	case action == ActionDelete && resource == ResourceUser:
		return true
	}
	return false
}

// MethodToAction maps an HTTP method to the action it implies
func MethodToAction(method string) Action {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionView
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionView
	}
}

// describe returns the noun used in denial reasons
func (r ResourceType) describe() string {
	switch r {
	case ResourceUser:
		return "member record"
	case ResourceActivityLog:
		return "activity log"
	default:
		return string(r)
	}
}
