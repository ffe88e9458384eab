package lti

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	cases := map[string]Role{
		"Instructor":                                        RoleInstructor,
		" learner ":                                         RoleLearner,
		"urn:lti:role:ims/lis/Instructor":                   RoleInstructor,
		"URN:LTI:ROLE:IMS/LIS/administrator":                RoleAdministrator,
		"urn:lti:instrole:ims/lis/Observer":                 RoleObserver,
		"urn:lti:role:ims/lis/Instructor/TeachingAssistant": RoleTeachingAssistant,
		"urn:lti:sysrole:ims/lis/SysAdmin":                  Role("SysAdmin"),
		"Custom":                                            Role("Custom"),
	}
	for raw, want := range cases {
		require.Equal(t, want, ParseRole(raw), raw)
	}
}

func TestParseRolesDeduplicates(t *testing.T) {
	t.Parallel()

	roles := ParseRoles("Learner, urn:lti:role:ims/lis/Learner,,Instructor")
	require.Equal(t, Roles{RoleLearner, RoleInstructor}, roles)
	require.True(t, roles.Has(RoleInstructor))
	require.False(t, roles.Has(RoleMentor))
	require.Equal(t, []string{"Learner", "Instructor"}, roles.Strings())
}

func TestRoleSetIntersects(t *testing.T) {
	t.Parallel()

	privileged := ParseRoleSet("Instructor, administrator")
	require.True(t, privileged.Intersects(ParseRoles("Learner,Instructor")))
	require.True(t, privileged.Intersects(ParseRoles("urn:lti:instrole:ims/lis/Administrator")))
	require.False(t, privileged.Intersects(ParseRoles("Learner")))
	require.False(t, privileged.Intersects(nil))
	require.False(t, NewRoleSet().Intersects(ParseRoles("Instructor")))
}
