package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankOrder(t *testing.T) {
	all := All()
	for i := 0; i < len(all)-1; i++ {
		assert.Greater(t, Rank(all[i]), Rank(all[i+1]), "%s should outrank %s", all[i], all[i+1])
	}
}

func TestRankUnknownIsLowest(t *testing.T) {
	for _, r := range All() {
		assert.Greater(t, Rank(r), Rank(Role("bishop")))
	}
	assert.Equal(t, 0, Rank(Role("")))
}

func TestCanManage(t *testing.T) {
	all := All()
	ids := [][2]int64{{1, 2}, {2, 1}, {5, 5}, {10, 10}, {7, 99}}

	for _, a := range all {
		for _, b := range all {
			for _, pair := range ids {
				aID, bID := pair[0], pair[1]
				got := CanManage(a, aID, b, bID)
				switch {
				case aID == bID:
					assert.False(t, got, "%s(%d) must not manage self", a, aID)
				case a.IsTop():
					assert.True(t, got, "top role manages %s", b)
				case Rank(a) > Rank(b):
					assert.True(t, got, "%s should manage %s", a, b)
				default:
					assert.False(t, got, "%s should not manage %s", a, b)
				}
			}
		}
	}
}

func TestCanManage_TopManagesPeers(t *testing.T) {
	assert.True(t, CanManage(SuperAdmin, 1, SuperAdmin, 2))
	assert.False(t, CanManage(NationalAdmin, 1, NationalAdmin, 2))
}

func TestScopeLevel(t *testing.T) {
	tests := []struct {
		role Role
		want Level
	}{
		{SuperAdmin, LevelNone},
		{NationalAdmin, LevelNone},
		{DioceseAdmin, LevelDiocese},
		{ArchdeaconryAdmin, LevelArchdeaconry},
		{DeaneryAdmin, LevelDeanery},
		{ParishAdmin, LevelParish},
		{Member, LevelNone},
		{Role("unknown"), LevelNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.ScopeLevel())
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Diocese Administrator", DioceseAdmin.DisplayName())
	assert.Equal(t, "Member", Member.DisplayName())
	assert.Equal(t, "Unknown", Role("x").DisplayName())
}

func TestParse(t *testing.T) {
	assert.Equal(t, ParishAdmin, Parse("  Parish_Admin "))
	assert.False(t, Parse("archbishop").Valid())
	assert.True(t, Parse("member").Valid())
}
