package authz

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecclesia-org/ecclesia/role"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name     string
		role     role.Role
		action   Action
		resource ResourceType
		want     bool
	}{
		// Top roles
		{"super admin can delete users", role.SuperAdmin, ActionDelete, ResourceUser, true},
		{"super admin can manage dioceses", role.SuperAdmin, ActionManage, ResourceDiocese, true},
		{"national admin cannot delete users", role.NationalAdmin, ActionDelete, ResourceUser, false},
		{"national admin can create dioceses", role.NationalAdmin, ActionCreate, ResourceDiocese, true},

		// Scoped admins see their own level and below
		{"diocese admin can view diocese", role.DioceseAdmin, ActionView, ResourceDiocese, true},
		{"diocese admin can view parish", role.DioceseAdmin, ActionView, ResourceParish, true},
		{"diocese admin cannot delete diocese", role.DioceseAdmin, ActionDelete, ResourceDiocese, false},
		{"archdeaconry admin cannot view diocese", role.ArchdeaconryAdmin, ActionView, ResourceDiocese, false},
		{"deanery admin can view deanery", role.DeaneryAdmin, ActionView, ResourceDeanery, true},
		{"deanery admin cannot view archdeaconry", role.DeaneryAdmin, ActionView, ResourceArchdeaconry, false},
		{"parish admin can view parish", role.ParishAdmin, ActionView, ResourceParish, true},
		{"parish admin cannot view diocese", role.ParishAdmin, ActionView, ResourceDiocese, false},
		{"parish admin cannot create parish", role.ParishAdmin, ActionCreate, ResourceParish, false},
		{"parish admin can approve members", role.ParishAdmin, ActionApprove, ResourceUser, true},

		// Members
		{"member can view user", role.Member, ActionView, ResourceUser, true},
		{"member can change password", role.Member, ActionChangePassword, ResourceUser, true},
		{"member cannot approve", role.Member, ActionApprove, ResourceUser, false},
		{"member cannot view parish", role.Member, ActionView, ResourceParish, false},

		// Unknown
		{"unknown role", role.Role("bishop"), ActionView, ResourceUser, false},
		{"unknown resource", role.SuperAdmin, ActionView, ResourceType("vestry"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.role, tt.action, tt.resource))
		})
	}
}

func TestEveryRoleHasAnEntryForUsers(t *testing.T) {
	for _, r := range role.All() {
		_, ok := Permissions[ResourceUser][r]
		assert.True(t, ok, r)
	}
}

func TestBlockedWhileImpersonating(t *testing.T) {
	assert.True(t, blockedWhileImpersonating(ActionChangePassword, ResourceUser))
	assert.True(t, blockedWhileImpersonating(ActionDelete, ResourceUser))
	assert.False(t, blockedWhileImpersonating(ActionDelete, ResourceParish))
	assert.False(t, blockedWhileImpersonating(ActionView, ResourceUser))
}

func TestMethodToAction(t *testing.T) {
	tests := []struct {
		method string
		want   Action
	}{
		{http.MethodGet, ActionView},
		{http.MethodHead, ActionView},
		{http.MethodPost, ActionCreate},
		{http.MethodPut, ActionUpdate},
		{http.MethodPatch, ActionUpdate},
		{http.MethodDelete, ActionDelete},
		{"CONNECT", ActionView},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, MethodToAction(tt.method))
		})
	}
}

func TestDeniedErrorUnwraps(t *testing.T) {
	err := error(&DeniedError{Reason: "nope"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "nope")
}
