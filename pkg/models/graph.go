// Package models defines the domain models for the document approval pipeline
package models

import (
	"sort"
	"strconv"
	"strings"
)

// StageKind classifies a stage for permission rules.
type StageKind string

const (
	StageKindDraft                 StageKind = "DRAFT"
	StageKindReview                StageKind = "REVIEW"
	StageKindApproval              StageKind = "APPROVAL"
	StageKindDistribution          StageKind = "DISTRIBUTION"
	StageKindReviewCollection      StageKind = "REVIEW_COLLECTION"
	StageKindFeedbackIncorporation StageKind = "FEEDBACK_INCORPORATION"
	StageKindPublication           StageKind = "PUBLICATION"
	StageKindComplete              StageKind = "COMPLETE"
)

// ActionEffect describes what taking an action does to the instance.
type ActionEffect string

const (
	EffectAdvance      ActionEffect = "ADVANCE"
	EffectReturn       ActionEffect = "RETURN"
	EffectDistribute   ActionEffect = "DISTRIBUTE"
	EffectSubmitReview ActionEffect = "SUBMIT_REVIEW"
	EffectAggregate    ActionEffect = "AGGREGATE"
	EffectPublish      ActionEffect = "PUBLISH"
)

// Well-known action ids used by review collection phases.
const (
	ActionSubmitReview       = "submitReview"
	ActionAllReviewsComplete = "allReviewsComplete"
	ActionProcessFeedback    = "processFeedback"
	ActionDistribute         = "distribute"
	ActionReturn             = "return"
)

// Condition gates a transition on instance metadata.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"` // equals | not_equals | exists | not_exists
	Value    any    `json:"value,omitempty" yaml:"value"`
}

// Action is an operation declared on a stage.
type Action struct {
	ID            string       `json:"id" yaml:"id"`
	Label         string       `json:"label" yaml:"label"`
	TargetStageID string       `json:"target_stage_id,omitempty" yaml:"target"`
	Effect        ActionEffect `json:"effect" yaml:"effect"`

	// Roles narrows who may take the action beyond the stage's own roles.
	Roles []Role `json:"roles,omitempty" yaml:"roles"`
}

// Stage is a node in the approval pipeline.
type Stage struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	Kind            StageKind `json:"kind" yaml:"kind"`
	Order           int       `json:"order" yaml:"order"`
	RequiredRoles   []Role    `json:"required_roles,omitempty" yaml:"roles"`
	AssignedRole    Role      `json:"assigned_role,omitempty" yaml:"assigned_role"`
	DeclaredActions []Action  `json:"actions,omitempty" yaml:"actions"`

	// CoordinatorRoles is only set on derived review collection phases: the
	// roles of the origin stage, which aggregate rather than review.
	CoordinatorRoles []Role `json:"coordinator_roles,omitempty" yaml:"-"`
	// Phase is set when the stage was derived from a fan-out origin.
	Phase            *Phase `json:"phase,omitempty" yaml:"-"`
}

// Roles returns the roles allowed to act on the stage, folding in the single
// assigned role form.
func (s Stage) Roles() []Role {
	if s.AssignedRole == "" || ContainsRole(s.RequiredRoles, s.AssignedRole) {
		return s.RequiredRoles
	}
	out := make([]Role, 0, len(s.RequiredRoles)+1)
	out = append(out, s.RequiredRoles...)
	return append(out, s.AssignedRole)
}

// Transition is a directed edge between two stages.
type Transition struct {
	ID        string     `json:"id" yaml:"id"`
	From      string     `json:"from" yaml:"from"`
	To        string     `json:"to" yaml:"to"`
	Label     string     `json:"label" yaml:"label"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition"`
}

// QuorumSettings overrides the process-wide aggregation policy for one graph.
type QuorumSettings struct {
	Mode    string `json:"mode" yaml:"mode"`
	Minimum int    `json:"minimum,omitempty" yaml:"minimum"`
}

// RoleEquivalence lets Role act as EquivalentTo on stages of Kind.
type RoleEquivalence struct {
	Kind         StageKind `json:"kind" yaml:"kind"`
	Role         Role      `json:"role" yaml:"role"`
	EquivalentTo Role      `json:"equivalent_to" yaml:"equivalent_to"`
}

// Settings holds graph-wide configuration.
type Settings struct {
	TerminalStageID      string            `json:"terminal_stage_id" yaml:"terminal_stage"`
	AllowedFanOutOrigins []string          `json:"allowed_fan_out_origins,omitempty" yaml:"fan_out_origins"`
	Quorum               *QuorumSettings   `json:"quorum,omitempty" yaml:"quorum"`
	RoleEquivalences     []RoleEquivalence `json:"role_equivalences,omitempty" yaml:"role_equivalences"`
}

// StageGraph is an immutable, versioned workflow definition.
type StageGraph struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Version     int          `json:"version" yaml:"version"`
	Description string       `json:"description,omitempty" yaml:"description"`
	Stages      []Stage      `json:"stages" yaml:"stages"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
	Settings    Settings     `json:"settings" yaml:"settings"`
}

// DefinitionSummary is the listDefinitions projection.
type DefinitionSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Summary returns the listing projection of the graph.
func (g *StageGraph) Summary() DefinitionSummary {
	return DefinitionSummary{ID: g.ID, Name: g.Name, Version: g.Version}
}

func (g *StageGraph) staticStage(id string) (Stage, bool) {
	for _, s := range g.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// FanOutAllowed reports whether stageID may be distributed from.
func (g *StageGraph) FanOutAllowed(stageID string) bool {
	for _, origin := range g.Settings.AllowedFanOutOrigins {
		if origin == stageID {
			return true
		}
	}
	return false
}

// IsTerminal reports whether stageID is the declared terminal stage.
func (g *StageGraph) IsTerminal(stageID string) bool {
	return stageID != "" && stageID == g.Settings.TerminalStageID
}

// StageByID resolves statically declared stages and the dynamic review
// collection phases of allowed fan-out origins.
func (g *StageGraph) StageByID(id string) (Stage, bool) {
	if s, ok := g.staticStage(id); ok {
		return s, true
	}
	phase, ok := ParsePhaseID(id)
	if !ok {
		return Stage{}, false
	}
	return g.PhaseStage(phase)
}

// PhaseStage derives the stage for a review collection phase. The origin
// stage's roles coordinate; every other non-admin role reviews.
func (g *StageGraph) PhaseStage(p Phase) (Stage, bool) {
	if !g.FanOutAllowed(p.ParentStageID) {
		return Stage{}, false
	}
	origin, ok := g.staticStage(p.ParentStageID)
	if !ok {
		return Stage{}, false
	}
	coordinators := origin.Roles()
	roles := make([]Role, 0, len(allRoles))
	for _, r := range allRoles {
		if r == RoleAdmin || ContainsRole(coordinators, r) {
			continue
		}
		roles = append(roles, r)
	}
	roles = append(roles, coordinators...)

	next := g.phaseExit(origin, p.ID())
	phase := p
	return Stage{
		ID:               p.ID(),
		Name:             origin.Name + " Review Collection",
		Kind:             StageKindReviewCollection,
		Order:            origin.Order,
		RequiredRoles:    roles,
		CoordinatorRoles: coordinators,
		Phase:            &phase,
		DeclaredActions: []Action{
			{ID: ActionSubmitReview, Label: "Submit Review", TargetStageID: p.ID(), Effect: EffectSubmitReview},
			{ID: ActionAllReviewsComplete, Label: "All Reviews Complete", TargetStageID: next, Effect: EffectAggregate},
			{ID: ActionProcessFeedback, Label: "Process Feedback", TargetStageID: next, Effect: EffectAggregate},
		},
	}, true
}

// phaseExit picks the main stage a phase aggregates into: the origin's first
// outgoing edge that is not the phase itself, else the next stage by order.
func (g *StageGraph) phaseExit(origin Stage, phaseID string) string {
	for _, t := range g.Transitions {
		if t.From == origin.ID && t.To != phaseID {
			if _, ok := ParsePhaseID(t.To); !ok {
				return t.To
			}
		}
	}
	ordered := g.orderedStages()
	for i, s := range ordered {
		if s.ID == origin.ID && i+1 < len(ordered) {
			return ordered[i+1].ID
		}
	}
	return ""
}

// Outgoing returns the edges leaving stageID. A phase inherits the edges of
// its origin stage, re-sourced to the phase.
func (g *StageGraph) Outgoing(stageID string) []Transition {
	var out []Transition
	for _, t := range g.Transitions {
		if t.From == stageID {
			out = append(out, t)
		}
	}
	if len(out) > 0 {
		return out
	}
	phase, ok := ParsePhaseID(stageID)
	if !ok || !g.FanOutAllowed(phase.ParentStageID) {
		return nil
	}
	for _, t := range g.Transitions {
		if t.From == phase.ParentStageID && t.To != stageID {
			inherited := t
			inherited.From = stageID
			out = append(out, inherited)
		}
	}
	return out
}

// FindTransition returns the edge from -> to, if any.
func (g *StageGraph) FindTransition(from, to string) (Transition, bool) {
	for _, t := range g.Outgoing(from) {
		if t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

func (g *StageGraph) orderedStages() []Stage {
	ordered := make([]Stage, len(g.Stages))
	copy(ordered, g.Stages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
	return ordered
}

// InitialStage returns the lowest-order stage.
func (g *StageGraph) InitialStage() (Stage, bool) {
	ordered := g.orderedStages()
	if len(ordered) == 0 {
		return Stage{}, false
	}
	return ordered[0], true
}

// PreviousStage returns the stage a "return" action goes back to: the
// preceding main stage by order, or the origin for a phase.
func (g *StageGraph) PreviousStage(stageID string) (Stage, bool) {
	if phase, ok := ParsePhaseID(stageID); ok {
		if _, known := g.StageByID(stageID); !known {
			return Stage{}, false
		}
		return g.staticStage(phase.ParentStageID)
	}
	ordered := g.orderedStages()
	for i, s := range ordered {
		if s.ID == stageID {
			if i == 0 {
				return Stage{}, false
			}
			return ordered[i-1], true
		}
	}
	return Stage{}, false
}

// FanOutSequence is the sub-phase number appended to an origin stage id.
const FanOutSequence = 5

// Phase identifies a dynamically created sub-stage of a parent stage.
type Phase struct {
	ParentStageID string    `json:"parent_stage_id"`
	Kind          StageKind `json:"kind"`
	Sequence      int       `json:"sequence"`
}

// CollectionPhase returns the review collection phase of parentStageID.
func CollectionPhase(parentStageID string) Phase {
	return Phase{ParentStageID: parentStageID, Kind: StageKindReviewCollection, Sequence: FanOutSequence}
}

// ID renders the phase in its wire form, e.g. "3.5".
func (p Phase) ID() string {
	return p.ParentStageID + "." + strconv.Itoa(p.Sequence)
}

// ParsePhaseID parses "<parent>.5". Only the fan-out sequence in its
// canonical spelling is recognised, so "3.05" is not a phase.
func ParsePhaseID(id string) (Phase, bool) {
	idx := strings.LastIndex(id, ".")
	if idx <= 0 || idx == len(id)-1 {
		return Phase{}, false
	}
	seq, err := strconv.Atoi(id[idx+1:])
	if err != nil || seq != FanOutSequence {
		return Phase{}, false
	}
	phase := CollectionPhase(id[:idx])
	if phase.ID() != id {
		return Phase{}, false
	}
	return phase, true
}
