// Package role defines the fixed privilege ladder used across the registry.
// Roles are totally ordered; the order drives "can manage" decisions and the
// scope level an administrator is bound to.
package role

import "strings"

// Role represents a user's position in the privilege hierarchy
type Role string

const (
	SuperAdmin        Role = "super_admin"        // Global, may impersonate
	NationalAdmin     Role = "national_admin"     // Global visibility
	DioceseAdmin      Role = "diocese_admin"      // Bound to one diocese
	ArchdeaconryAdmin Role = "archdeaconry_admin" // Bound to one archdeaconry
	DeaneryAdmin      Role = "deanery_admin"      // Bound to one deanery
	ParishAdmin       Role = "parish_admin"       // Bound to one parish
	Member            Role = "member"             // Self only
)

// Level is one of the organizational unit levels a scoped role is bound to
type Level string

const (
	LevelNone         Level = ""
	LevelProvince     Level = "province"
	LevelDiocese      Level = "diocese"
	LevelArchdeaconry Level = "archdeaconry"
	LevelDeanery      Level = "deanery"
	LevelParish       Level = "parish"
)

// ranks holds the total order. Unknown roles are absent and rank 0.
var ranks = map[Role]int{
	Member:            1,
	ParishAdmin:       2,
	DeaneryAdmin:      3,
	ArchdeaconryAdmin: 4,
	DioceseAdmin:      5,
	NationalAdmin:     6,
	SuperAdmin:        7,
}

var displayNames = map[Role]string{
	SuperAdmin:        "Super Administrator",
	NationalAdmin:     "National Administrator",
	DioceseAdmin:      "Diocese Administrator",
	ArchdeaconryAdmin: "Archdeaconry Administrator",
	DeaneryAdmin:      "Deanery Administrator",
	ParishAdmin:       "Parish Administrator",
	Member:            "Member",
}

// All returns every known role from most to least privileged
func All() []Role {
	return []Role{SuperAdmin, NationalAdmin, DioceseAdmin, ArchdeaconryAdmin, DeaneryAdmin, ParishAdmin, Member}
}

// Parse normalizes a stored role string. Unknown values are returned as-is
// and will rank lowest.
func Parse(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// Valid reports whether r is one of the fixed roles
func (r Role) Valid() bool {
	_, ok := ranks[r]
	return ok
}

// Rank returns the ordinal position of r, higher is more privileged.
// Unknown roles return 0.
func Rank(r Role) int {
	return ranks[r]
}

// Top returns the most privileged role
func Top() Role {
	return SuperAdmin
}

// IsTop reports whether r is the most privileged role
func (r Role) IsTop() bool {
	return r == SuperAdmin
}

// IsGlobal reports whether r sees every organizational unit
func (r Role) IsGlobal() bool {
	return r == SuperAdmin || r == NationalAdmin
}

// ScopeLevel returns the organizational level r is bound to.
// Global roles and members return LevelNone.
func (r Role) ScopeLevel() Level {
	switch r {
	case DioceseAdmin:
		return LevelDiocese
	case ArchdeaconryAdmin:
		return LevelArchdeaconry
	case DeaneryAdmin:
		return LevelDeanery
	case ParishAdmin:
		return LevelParish
	default:
		return LevelNone
	}
}

// IsAdmin reports whether r is any administrative role
func (r Role) IsAdmin() bool {
	return Rank(r) > Rank(Member)
}

// DisplayName returns the human readable name of r
func (r Role) DisplayName() string {
	if name, ok := displayNames[r]; ok {
		return name
	}
	return "Unknown"
}

func (r Role) String() string {
	return string(r)
}

// CanManage reports whether an actor may change elevated attributes (role,
// status) of a target. Nobody manages themselves through this path.
func CanManage(actorRole Role, actorID int64, targetRole Role, targetID int64) bool {
	if actorID == targetID {
		return false
	}
	if actorRole.IsTop() {
		return true
	}
	return Rank(actorRole) > Rank(targetRole)
}
