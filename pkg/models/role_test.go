package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseRole_Aliases(t *testing.T) {
	cases := map[string]Role{
		"Admin":           RoleAdmin,
		"  COORDINATOR ":  RoleCoordinator,
		"OPR Leadership":  RoleLeadership,
		"opr.leadership":  RoleLeadership,
		"Action Officer":  RoleActionOfficer,
		"action-officer":  RoleActionOfficer,
		"AFDPO Publisher": RolePublisher,
		"Legal Reviewer":  RoleLegal,
		"sub_reviewer":    RoleSubReviewer,
	}
	for in, want := range cases {
		got, ok := ParseRole(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseRole("janitor")
	assert.False(t, ok)
	assert.Equal(t, Role(""), NormalizeRole("janitor"))
}

func TestRole_UnmarshalNormalizes(t *testing.T) {
	var body struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"opr"}`), &body))
	assert.Equal(t, RoleActionOfficer, body.Role)

	assert.Error(t, json.Unmarshal([]byte(`{"role":"janitor"}`), &body))

	var stage Stage
	require.NoError(t, yaml.Unmarshal([]byte("id: \"2\"\nroles: [pcm, Coordinator]\n"), &stage))
	assert.Equal(t, []Role{RolePCM, RoleCoordinator}, stage.RequiredRoles)
}

func TestActor_IsAdminDerivedFromRole(t *testing.T) {
	assert.True(t, Actor{ID: "a", Role: RoleAdmin}.IsAdmin())
	assert.False(t, Actor{ID: "c", Role: RoleCoordinator}.IsAdmin())
}
