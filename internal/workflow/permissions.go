package workflow

import (
	"strings"

	"doc-approval/backend/pkg/models"
)

// ResolvedAction is one entry of the resolver output. Clients use it to
// render enabled or disabled controls; it is not a capability grant.
type ResolvedAction struct {
	ID             string              `json:"id"`
	Label          string              `json:"label"`
	TargetStageID  string              `json:"target_stage_id"`
	Effect         models.ActionEffect `json:"effect"`
	Permitted      bool                `json:"permitted"`
	ReasonIfDenied string              `json:"reason_if_denied,omitempty"`
	AdminOverride  bool                `json:"admin_override,omitempty"`

	roles     []models.Role
	condition *models.Condition
}

// Matches reports whether name refers to this action by id or label,
// ignoring case.
func (a ResolvedAction) Matches(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && (strings.EqualFold(a.ID, name) || strings.EqualFold(a.Label, name))
}

// Resolver computes the actions an actor may currently take. It holds only
// the static rule table, so Resolve is a pure function of its arguments.
type Resolver struct {
	rules RuleTable
}

// NewResolver returns a resolver using DefaultEquivalences plus extra rows.
func NewResolver(extra ...models.RoleEquivalence) *Resolver {
	return &Resolver{rules: NewRuleTable(DefaultEquivalences, extra)}
}

// Resolve returns the merged, de-duplicated action list for the instance's
// current stage as seen by actor.
func (r *Resolver) Resolve(g *models.StageGraph, inst *models.Instance, actor models.Actor) ([]ResolvedAction, error) {
	if inst == nil || inst.CurrentStageID == "" {
		return nil, ValidationError("instance has no current stage")
	}
	stage, ok := g.StageByID(inst.CurrentStageID)
	if !ok {
		return nil, ValidationError("stage %q does not resolve in workflow %s v%d", inst.CurrentStageID, g.ID, g.Version)
	}

	role := models.NormalizeRole(string(actor.Role))
	admin := role == models.RoleAdmin
	rules := r.rules.With(g.Settings.RoleEquivalences)
	part := participantFor(rules, stage, role, inst.Distribution)

	candidates := candidateActions(g, stage)
	out := make([]ResolvedAction, 0, len(candidates))
	for _, c := range candidates {
		if c.Effect == models.EffectPublish && !g.IsTerminal(stage.ID) {
			continue
		}
		if admin {
			c.Permitted = true
			c.AdminOverride = true
		} else {
			c.ReasonIfDenied = denyReason(rules, stage, role, part, c, inst.Metadata)
			c.Permitted = c.ReasonIfDenied == ""
		}
		out = append(out, c)
	}
	return out, nil
}

// candidateActions merges declared actions, outgoing transitions, the
// implicit return action and the implicit distribute action. Transitions are
// dropped when a declared action already targets the same stage.
func candidateActions(g *models.StageGraph, stage models.Stage) []ResolvedAction {
	var out []ResolvedAction
	seenID := make(map[string]bool)
	targeted := make(map[string]bool)
	hasDistribute := false

	for _, a := range stage.DeclaredActions {
		if seenID[a.ID] {
			continue
		}
		seenID[a.ID] = true
		effect := a.Effect
		if effect == "" {
			effect = models.EffectAdvance
		}
		if effect == models.EffectDistribute {
			hasDistribute = true
		}
		target := a.TargetStageID
		if target == "" {
			target = stage.ID
		}
		targeted[target] = true
		out = append(out, ResolvedAction{
			ID:            a.ID,
			Label:         a.Label,
			TargetStageID: target,
			Effect:        effect,
			roles:         a.Roles,
		})
	}

	for _, t := range g.Outgoing(stage.ID) {
		if targeted[t.To] {
			continue
		}
		targeted[t.To] = true
		id := t.ID
		if id == "" {
			id = "to-" + t.To
		}
		if seenID[id] {
			continue
		}
		seenID[id] = true
		out = append(out, ResolvedAction{
			ID:            id,
			Label:         t.Label,
			TargetStageID: t.To,
			Effect:        models.EffectAdvance,
			condition:     t.Condition,
		})
	}

	if prev, ok := g.PreviousStage(stage.ID); ok && !targeted[prev.ID] && !seenID[models.ActionReturn] {
		out = append(out, ResolvedAction{
			ID:            models.ActionReturn,
			Label:         "Return to " + prev.Name,
			TargetStageID: prev.ID,
			Effect:        models.EffectReturn,
		})
	}

	if g.FanOutAllowed(stage.ID) && !hasDistribute && !seenID[models.ActionDistribute] {
		out = append(out, ResolvedAction{
			ID:            models.ActionDistribute,
			Label:         "Distribute to Reviewers",
			TargetStageID: models.CollectionPhase(stage.ID).ID(),
			Effect:        models.EffectDistribute,
		})
	}
	return out
}

// participantFor places role on the second axis. On a review collection
// phase the origin stage's roles, and the role that distributed, coordinate;
// every other stage role reviews.
func participantFor(rules RuleTable, stage models.Stage, role models.Role, dist *models.Distribution) participant {
	if stage.Kind == models.StageKindReviewCollection {
		if rules.Satisfies(stage.Kind, role, coordinatorRoles(stage, dist)) {
			return participantCoordinator
		}
		if rules.Satisfies(stage.Kind, role, stage.Roles()) {
			return participantReviewer
		}
		return participantNone
	}
	roles := stage.Roles()
	if len(roles) == 0 || rules.Satisfies(stage.Kind, role, roles) {
		return participantMember
	}
	return participantNone
}

func coordinatorRoles(stage models.Stage, dist *models.Distribution) []models.Role {
	roles := stage.CoordinatorRoles
	if dist != nil && dist.StageID == stage.ID && dist.DistributedByRole != "" &&
		dist.DistributedByRole != models.RoleAdmin && !models.ContainsRole(roles, dist.DistributedByRole) {
		roles = append(append([]models.Role(nil), roles...), dist.DistributedByRole)
	}
	return roles
}

// denyReason returns "" when the action is permitted.
func denyReason(rules RuleTable, stage models.Stage, role models.Role, part participant, a ResolvedAction, metadata map[string]any) string {
	if part == participantNone {
		return requiresReason(stage.Roles())
	}
	allowed := false
	for _, effect := range categoriesFor(stage.Kind, part) {
		if effect == a.Effect {
			allowed = true
			break
		}
	}
	if !allowed {
		switch part {
		case participantReviewer:
			return requiresReason(stage.CoordinatorRoles)
		case participantCoordinator:
			if a.Effect == models.EffectSubmitReview {
				return "coordinators aggregate reviews and cannot submit one"
			}
			return "review collection ends through an aggregation action"
		default:
			return "not available at this stage"
		}
	}
	if len(a.roles) > 0 && !rules.Satisfies(stage.Kind, role, a.roles) {
		return requiresReason(a.roles)
	}
	if !conditionHolds(a.condition, metadata) {
		return "condition on " + a.condition.Field + " is not met"
	}
	return ""
}

// Find returns the first action in actions targeting targetStageID whose id
// or label matches name. An empty name matches any action with that target;
// an empty target matches any target.
func Find(actions []ResolvedAction, targetStageID, name string) (ResolvedAction, bool) {
	var fallback *ResolvedAction
	for i := range actions {
		a := actions[i]
		if targetStageID != "" && a.TargetStageID != targetStageID {
			continue
		}
		if name == "" || a.Matches(name) {
			return a, true
		}
		if fallback == nil && targetStageID != "" {
			fallback = &actions[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return ResolvedAction{}, false
}
