package lti

import "strings"

// Role is a normalized LIS role name.
type Role string

const (
	RoleLearner           Role = "Learner"
	RoleInstructor        Role = "Instructor"
	RoleContentDeveloper  Role = "ContentDeveloper"
	RoleMember            Role = "Member"
	RoleManager           Role = "Manager"
	RoleMentor            Role = "Mentor"
	RoleAdministrator     Role = "Administrator"
	RoleTeachingAssistant Role = "TeachingAssistant"
	RoleObserver          Role = "Observer"
)

var knownRoles = []Role{
	RoleLearner, RoleInstructor, RoleContentDeveloper, RoleMember, RoleManager,
	RoleMentor, RoleAdministrator, RoleTeachingAssistant, RoleObserver,
}

var rolePrefixes = []string{
	"urn:lti:role:ims/lis/",
	"urn:lti:instrole:ims/lis/",
	"urn:lti:sysrole:ims/lis/",
}

// ParseRole strips URN prefixes, keeps the most specific sub-role and canonicalizes the case
// of known roles. Unknown names are returned as is.
func ParseRole(raw string) Role {
	name := strings.TrimSpace(raw)
	for _, prefix := range rolePrefixes {
		if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
			name = name[len(prefix):]
			break
		}
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, known := range knownRoles {
		if strings.EqualFold(name, string(known)) {
			return known
		}
	}
	return Role(name)
}

// Roles is the ordered, de-duplicated role list of a launch.
type Roles []Role

// ParseRoles splits a comma-separated roles parameter.
func ParseRoles(raw string) Roles {
	var out Roles
	seen := map[Role]bool{}
	for _, part := range strings.Split(raw, ",") {
		role := ParseRole(part)
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}

func (r Roles) Has(role Role) bool {
	for _, have := range r {
		if have == role {
			return true
		}
	}
	return false
}

func (r Roles) Strings() []string {
	out := make([]string, len(r))
	for i, role := range r {
		out[i] = string(role)
	}
	return out
}

// RoleSet is the configured allow-list of roles allowed to create remote classes and sheets.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}

// ParseRoleSet reads a comma-separated allow-list using the same normalization as launches.
func ParseRoleSet(csv string) RoleSet {
	return NewRoleSet(ParseRoles(csv)...)
}

// Intersects reports whether any of roles belongs to the set.
func (s RoleSet) Intersects(roles Roles) bool {
	for _, role := range roles {
		if _, ok := s[role]; ok {
			return true
		}
	}
	return false
}
