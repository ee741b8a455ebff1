package models

import (
	"fmt"
	"strings"
)

// Role is the canonical form of an actor role. Identity providers hand us
// free-form role names; ParseRole maps them onto this closed set.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleActionOfficer Role = "ACTION_OFFICER"
	RolePCM           Role = "PCM"
	RoleCoordinator   Role = "COORDINATOR"
	RoleSubReviewer   Role = "SUB_REVIEWER"
	RoleLegal         Role = "LEGAL"
	RoleLeadership    Role = "LEADERSHIP"
	RolePublisher     Role = "AFDPO"
)

// allRoles is ordered for stable output in derived stages and error reasons.
var allRoles = []Role{
	RoleActionOfficer,
	RolePCM,
	RoleCoordinator,
	RoleSubReviewer,
	RoleLegal,
	RoleLeadership,
	RolePublisher,
	RoleAdmin,
}

// roleAliases maps normalized spellings onto canonical roles.
var roleAliases = map[string]Role{
	"admin":           RoleAdmin,
	"administrator":   RoleAdmin,
	"action_officer":  RoleActionOfficer,
	"actionofficer":   RoleActionOfficer,
	"ao":              RoleActionOfficer,
	"opr":             RoleActionOfficer,
	"opr_user":        RoleActionOfficer,
	"pcm":             RolePCM,
	"coordinator":     RoleCoordinator,
	"coord":           RoleCoordinator,
	"sub_reviewer":    RoleSubReviewer,
	"subreviewer":     RoleSubReviewer,
	"reviewer":        RoleSubReviewer,
	"legal":           RoleLegal,
	"legal_reviewer":  RoleLegal,
	"leadership":      RoleLeadership,
	"opr_leadership":  RoleLeadership,
	"commander":       RoleLeadership,
	"afdpo":           RolePublisher,
	"afdpo_publisher": RolePublisher,
	"publisher":       RolePublisher,
}

// AllRoles returns every canonical role, admin last.
func AllRoles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// ParseRole normalizes a role name case-insensitively. Spaces, hyphens and
// dots are treated as underscores, so "OPR Leadership" and "opr.leadership"
// both resolve to RoleLeadership.
func ParseRole(name string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(key)
	role, ok := roleAliases[key]
	return role, ok
}

// NormalizeRole is ParseRole without the ok flag; unknown names yield "".
func NormalizeRole(name string) Role {
	role, _ := ParseRole(name)
	return role
}

// String returns the canonical role name.
func (r Role) String() string { return string(r) }

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// UnmarshalText accepts any known alias so definition files and JSON bodies
// can use the spelling their authors are used to.
func (r *Role) UnmarshalText(text []byte) error {
	role, ok := ParseRole(string(text))
	if !ok {
		return fmt.Errorf("unknown role %q", string(text))
	}
	*r = role
	return nil
}

// ContainsRole reports whether role is in roles.
func ContainsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Actor is the caller as resolved by the identity collaborator.
type Actor struct {
	ID             string `json:"actor_id"`
	Role           Role   `json:"role"`
	OrganizationID string `json:"organization_id"`
}

// IsAdmin is derived from the canonical role, never from a client flag.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
