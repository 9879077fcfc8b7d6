package generic_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hr-workflow/generic"
)

func TestCanonicalRole(t *testing.T) {
	tests := []struct {
		department  string
		designation string
		want        generic.OrgRole
	}{
		{"HR", "", generic.OrgRoleHR},
		{"  Human   Resources ", "Officer", generic.OrgRoleHR},
		{"H.R.", "", generic.OrgRoleHR},
		{"People Operations", "Partner", generic.OrgRoleHR},
		{"Accounts", "", generic.OrgRoleFinance},
		{"Finance & Accounts", "Clerk", generic.OrgRoleFinance},
		{"Management", "CEO", generic.OrgRoleManagement},
		{"management", "c.e.o.", generic.OrgRoleManagement},
		{"Executive Management", "Managing Director", generic.OrgRoleManagement},
		{"Management", "Office Assistant", generic.OrgRoleNone},
		{"Engineering", "CEO", generic.OrgRoleNone},
		{"", "", generic.OrgRoleNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generic.CanonicalRole(tt.department, tt.designation), "%q / %q", tt.department, tt.designation)
	}
}

// =============================================================================
// ACTOR RESOLVER
// =============================================================================

func TestActorResolver_ByUserID(t *testing.T) {
	r := generic.NewActorResolver(newTestDirectory())

	a, err := r.Resolve(context.Background(), generic.Session{UserID: "u-hr", Role: "employee"})
	require.NoError(t, err)

	assert.Equal(t, generic.EmployeeID("e-hr"), a.EmployeeRef)
	assert.Equal(t, generic.OrgRoleHR, a.OrgRole)
	assert.Equal(t, "hr@warp.test", a.Email)
	assert.False(t, a.IsAdmin)
}

func TestActorResolver_EmailFallback(t *testing.T) {
	r := generic.NewActorResolver(newTestDirectory())

	a, err := r.Resolve(context.Background(), generic.Session{UserID: "u-new-sso", Email: " CEO@warp.test "})
	require.NoError(t, err)

	assert.Equal(t, generic.EmployeeID("e-ceo"), a.EmployeeRef)
	assert.Equal(t, generic.OrgRoleManagement, a.OrgRole)
	assert.Equal(t, generic.UserID("u-new-sso"), a.ID)
}

func TestActorResolver_NoEmployeeRecord(t *testing.T) {
	r := generic.NewActorResolver(newTestDirectory())

	a, err := r.Resolve(context.Background(), generic.Session{UserID: "u-admin", Role: "Admin"})
	require.NoError(t, err)

	assert.True(t, a.IsAdmin)
	assert.Empty(t, a.EmployeeRef)
	assert.Equal(t, generic.OrgRoleNone, a.OrgRole)
}

func TestActorResolver_Anonymous(t *testing.T) {
	r := generic.NewActorResolver(newTestDirectory())

	_, err := r.Resolve(context.Background(), generic.Session{})
	assert.True(t, errors.Is(err, generic.ErrUnauthorized))
}

func TestActor_Matches(t *testing.T) {
	a := actorOf(hr)
	assert.True(t, a.Matches("u-hr"))
	assert.True(t, a.Matches("e-hr"))
	assert.False(t, a.Matches(""))
	assert.False(t, generic.Actor{}.Matches(""))
}
