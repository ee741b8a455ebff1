package registry

import (
	"errors"
	"fmt"

	"doc-approval/backend/internal/workflow"
	"doc-approval/backend/pkg/models"
)

// Validate checks that g is internally consistent: stage ids are unique and
// never collide with phase ids, every edge and action target resolves, and
// the terminal and fan-out settings name real stages.
func Validate(g *models.StageGraph) error {
	if g == nil {
		return errors.New("definition is nil")
	}
	if g.ID == "" {
		return errors.New("definition id is required")
	}
	if g.Version < 1 {
		return fmt.Errorf("definition %s: version must be at least 1", g.ID)
	}
	if len(g.Stages) == 0 {
		return fmt.Errorf("definition %s: at least one stage is required", g.ID)
	}

	seen := make(map[string]bool, len(g.Stages))
	for _, s := range g.Stages {
		if s.ID == "" {
			return fmt.Errorf("definition %s: stage with empty id", g.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("definition %s: duplicate stage %s", g.ID, s.ID)
		}
		if _, isPhase := models.ParsePhaseID(s.ID); isPhase {
			return fmt.Errorf("definition %s: stage id %s is reserved for review collection phases", g.ID, s.ID)
		}
		seen[s.ID] = true
	}

	for _, origin := range g.Settings.AllowedFanOutOrigins {
		if !seen[origin] {
			return fmt.Errorf("definition %s: fan-out origin %s is not a stage", g.ID, origin)
		}
	}
	if g.Settings.TerminalStageID != "" && !seen[g.Settings.TerminalStageID] {
		return fmt.Errorf("definition %s: terminal stage %s is not a stage", g.ID, g.Settings.TerminalStageID)
	}

	resolves := func(id string) bool {
		_, ok := g.StageByID(id)
		return ok
	}
	for _, t := range g.Transitions {
		if !resolves(t.From) || !resolves(t.To) {
			return fmt.Errorf("definition %s: transition %s -> %s references an unknown stage", g.ID, t.From, t.To)
		}
	}
	for _, s := range g.Stages {
		ids := make(map[string]bool, len(s.DeclaredActions))
		for _, a := range s.DeclaredActions {
			if a.ID == "" {
				return fmt.Errorf("definition %s: stage %s has an action without id", g.ID, s.ID)
			}
			if ids[a.ID] {
				return fmt.Errorf("definition %s: stage %s declares action %s twice", g.ID, s.ID, a.ID)
			}
			ids[a.ID] = true
			if a.TargetStageID != "" && !resolves(a.TargetStageID) {
				return fmt.Errorf("definition %s: action %s targets unknown stage %s", g.ID, a.ID, a.TargetStageID)
			}
			if a.Effect == models.EffectPublish && !g.IsTerminal(s.ID) {
				return fmt.Errorf("definition %s: publish action %s is only allowed on the terminal stage", g.ID, a.ID)
			}
		}
	}
	if q := g.Settings.Quorum; q != nil {
		mode, err := workflow.ParseQuorumMode(q.Mode)
		if err != nil {
			return fmt.Errorf("definition %s: %w", g.ID, err)
		}
		if mode == workflow.QuorumMinimum && q.Minimum < 1 {
			return fmt.Errorf("definition %s: quorum minimum must be at least 1", g.ID)
		}
	}
	return nil
}
