package workflow

import (
	"context"
	"strings"
	"time"

	"doc-approval/backend/pkg/models"
)

// Coordinator runs fan-out rounds: it moves an instance from an allowed
// origin stage into the origin's review collection phase and records reviewer
// submissions there.
type Coordinator struct {
	m *Manager
}

// NewCoordinator returns a coordinator that mutates instances through m.
func NewCoordinator(m *Manager) *Coordinator {
	return &Coordinator{m: m}
}

// Distribute fans the document out to reviewerIDs and returns the id of the
// review collection phase the instance moved to.
func (c *Coordinator) Distribute(ctx context.Context, documentID, fromStageID string, reviewerIDs []string, actor models.Actor) (string, error) {
	reviewers := cleanIDs(reviewerIDs)
	var err error
	switch {
	case strings.TrimSpace(fromStageID) == "":
		err = ValidationError("fromStageId is required")
	case len(reviewers) == 0:
		err = ValidationError("at least one reviewer is required")
	default:
		err = checkActor(actor)
	}
	if err != nil {
		c.m.metrics.operation(ctx, "distribute", err)
		return "", err
	}

	inst, err := c.m.mutate(ctx, "distribute", documentID, actor, func(g *models.StageGraph, inst *models.Instance, now time.Time) (*models.HistoryEntry, error) {
		if !g.FanOutAllowed(fromStageID) {
			return nil, ValidationError("stage %s does not allow distribution", fromStageID)
		}
		if inst.CurrentStageID != fromStageID {
			return nil, ValidationError("instance is at stage %s, not %s", inst.CurrentStageID, fromStageID)
		}
		phaseID := models.CollectionPhase(fromStageID).ID()
		if _, ok := g.StageByID(phaseID); !ok {
			return nil, ValidationError("stage %s has no review collection phase", fromStageID)
		}

		actions, err := c.m.resolver.Resolve(g, inst, actor)
		if err != nil {
			return nil, err
		}
		action, ok := findEffect(actions, models.EffectDistribute)
		if !ok {
			return nil, ValidationError("distribution is not available at stage %s", fromStageID)
		}
		if !action.Permitted {
			return nil, UnauthorizedError("%s", action.ReasonIfDenied)
		}

		if inst.Distribution != nil {
			inst.PriorDistributions = append(inst.PriorDistributions, *inst.Distribution)
		}
		inst.Distribution = &models.Distribution{
			StageID:           phaseID,
			OriginStageID:     fromStageID,
			ReviewerIDs:       reviewers,
			DistributedBy:     actor.ID,
			DistributedByRole: models.NormalizeRole(string(actor.Role)),
			DistributedAt:     now,
			Reviews:           []models.Review{},
		}
		inst.CurrentStageID = phaseID
		inst.Metadata["lastAction"] = action.Label
		inst.Metadata["lastActionAt"] = now.Format(time.RFC3339)

		return &models.HistoryEntry{
			Action:  models.ActionDistribute,
			StageID: phaseID,
			Metadata: map[string]any{
				"from":        fromStageID,
				"to":          phaseID,
				"reviewerIds": append([]string(nil), reviewers...),
			},
		}, nil
	})
	if err != nil {
		return "", err
	}
	return inst.CurrentStageID, nil
}

// SubmitReview appends one review to the current round. Reviews are never
// replaced; a reviewer submitting twice leaves both entries.
func (c *Coordinator) SubmitReview(ctx context.Context, documentID, reviewerID, review string, actor models.Actor) error {
	reviewerID = strings.TrimSpace(reviewerID)
	var err error
	switch {
	case reviewerID == "":
		err = ValidationError("reviewerId is required")
	case strings.TrimSpace(review) == "":
		err = ValidationError("review is required")
	default:
		err = checkActor(actor)
	}
	if err != nil {
		c.m.metrics.operation(ctx, "submit_review", err)
		return err
	}

	_, err = c.m.mutate(ctx, "submit_review", documentID, actor, func(g *models.StageGraph, inst *models.Instance, now time.Time) (*models.HistoryEntry, error) {
		stage, ok := g.StageByID(inst.CurrentStageID)
		if !ok || stage.Kind != models.StageKindReviewCollection {
			return nil, ValidationError("stage %s is not collecting reviews", inst.CurrentStageID)
		}
		actions, err := c.m.resolver.Resolve(g, inst, actor)
		if err != nil {
			return nil, err
		}
		action, ok := findEffect(actions, models.EffectSubmitReview)
		if !ok {
			return nil, ValidationError("stage %s is not collecting reviews", inst.CurrentStageID)
		}
		if !action.Permitted {
			return nil, UnauthorizedError("%s", action.ReasonIfDenied)
		}
		if !isAdmin(actor) && actor.ID != reviewerID {
			return nil, UnauthorizedError("reviewers may only submit their own review")
		}
		dist := inst.Distribution
		if dist == nil || dist.StageID != stage.ID {
			return nil, ValidationError("stage %s has no open distribution", stage.ID)
		}
		if !dist.HasReviewer(reviewerID) {
			return nil, ValidationError("%s is not a reviewer on this distribution", reviewerID)
		}

		dist.Reviews = append(dist.Reviews, models.Review{
			ReviewerID:  reviewerID,
			Review:      review,
			SubmittedBy: actor.ID,
			SubmittedAt: now,
		})
		inst.Metadata["lastAction"] = action.Label
		inst.Metadata["lastActionAt"] = now.Format(time.RFC3339)

		return &models.HistoryEntry{
			Action:   models.ActionSubmitReview,
			StageID:  stage.ID,
			Metadata: map[string]any{"reviewerId": reviewerID},
		}, nil
	})
	return err
}

func findEffect(actions []ResolvedAction, effect models.ActionEffect) (ResolvedAction, bool) {
	for _, a := range actions {
		if a.Effect == effect {
			return a, true
		}
	}
	return ResolvedAction{}, false
}

// cleanIDs trims, drops blanks and de-duplicates while keeping order.
func cleanIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
