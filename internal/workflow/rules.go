package workflow

import (
	"fmt"
	"strings"

	"doc-approval/backend/pkg/models"
)

// DefaultEquivalences is the built-in role equivalence table. Graphs may add
// rows through settings.role_equivalences.
var DefaultEquivalences = []models.RoleEquivalence{
	{Kind: models.StageKindFeedbackIncorporation, Role: models.RoleLeadership, EquivalentTo: models.RoleActionOfficer},
}

// participant is the second permission axis: how an actor takes part in a
// stage once role membership is settled.
type participant string

const (
	participantNone        participant = ""
	participantMember      participant = "member"
	participantCoordinator participant = "coordinator"
	participantReviewer    participant = "reviewer"
)

// categoryTable lists the action effects each participant may take, keyed by
// stage kind. Kinds not listed use defaultCategories.
var categoryTable = map[models.StageKind]map[participant][]models.ActionEffect{
	models.StageKindReviewCollection: {
		participantCoordinator: {models.EffectAggregate, models.EffectReturn},
		participantReviewer:    {models.EffectSubmitReview},
	},
}

var defaultCategories = map[participant][]models.ActionEffect{
	participantMember: {models.EffectAdvance, models.EffectReturn, models.EffectDistribute, models.EffectPublish},
}

func categoriesFor(kind models.StageKind, p participant) []models.ActionEffect {
	if byKind, ok := categoryTable[kind]; ok {
		return byKind[p]
	}
	return defaultCategories[p]
}

// RuleTable answers "does this role count as one of these roles on a stage
// of this kind".
type RuleTable struct {
	equivalents map[models.StageKind]map[models.Role][]models.Role
}

// NewRuleTable builds a table from equivalence rows.
func NewRuleTable(rows ...[]models.RoleEquivalence) RuleTable {
	t := RuleTable{equivalents: make(map[models.StageKind]map[models.Role][]models.Role)}
	for _, set := range rows {
		for _, row := range set {
			t.add(row)
		}
	}
	return t
}

func (t RuleTable) add(row models.RoleEquivalence) {
	byRole, ok := t.equivalents[row.Kind]
	if !ok {
		byRole = make(map[models.Role][]models.Role)
		t.equivalents[row.Kind] = byRole
	}
	if !models.ContainsRole(byRole[row.Role], row.EquivalentTo) {
		byRole[row.Role] = append(byRole[row.Role], row.EquivalentTo)
	}
}

// With returns a copy of t extended with rows.
func (t RuleTable) With(rows []models.RoleEquivalence) RuleTable {
	if len(rows) == 0 {
		return t
	}
	out := NewRuleTable()
	for kind, byRole := range t.equivalents {
		for role, eqs := range byRole {
			for _, eq := range eqs {
				out.add(models.RoleEquivalence{Kind: kind, Role: role, EquivalentTo: eq})
			}
		}
	}
	for _, row := range rows {
		out.add(row)
	}
	return out
}

// Satisfies reports whether role, or a role it is equivalent to on kind, is
// in required.
func (t RuleTable) Satisfies(kind models.StageKind, role models.Role, required []models.Role) bool {
	if role == "" {
		return false
	}
	if models.ContainsRole(required, role) {
		return true
	}
	for _, eq := range t.equivalents[kind][role] {
		if models.ContainsRole(required, eq) {
			return true
		}
	}
	return false
}

// requiresReason renders the denial text for a role requirement.
func requiresReason(roles []models.Role) string {
	if len(roles) == 0 {
		return "not permitted at this stage"
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return fmt.Sprintf("requires %s role at this stage", strings.Join(names, " or "))
}

// conditionHolds evaluates a transition condition against instance metadata.
func conditionHolds(c *models.Condition, metadata map[string]any) bool {
	if c == nil {
		return true
	}
	value, present := metadata[c.Field]
	switch strings.ToLower(c.Operator) {
	case "", "exists":
		return present
	case "not_exists":
		return !present
	case "equals":
		return present && fmt.Sprint(value) == fmt.Sprint(c.Value)
	case "not_equals":
		return !present || fmt.Sprint(value) != fmt.Sprint(c.Value)
	default:
		return false
	}
}
