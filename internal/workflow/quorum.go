package workflow

import (
	"fmt"
	"strings"

	"doc-approval/backend/pkg/models"
)

// QuorumMode selects when a coordinator may aggregate a review round.
type QuorumMode string

const (
	// QuorumManual leaves the decision to the coordinator.
	QuorumManual QuorumMode = "manual"
	// QuorumAll requires every distributed reviewer to have submitted.
	QuorumAll QuorumMode = "all"
	// QuorumMinimum requires at least Minimum distinct reviewers.
	QuorumMinimum QuorumMode = "minimum"
)

// ParseQuorumMode accepts the config spelling of a mode. Empty means manual.
func ParseQuorumMode(s string) (QuorumMode, error) {
	switch mode := QuorumMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return QuorumManual, nil
	case QuorumManual, QuorumAll, QuorumMinimum:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown quorum mode %q", s)
	}
}

// QuorumPolicy gates the aggregation actions of a review collection phase.
type QuorumPolicy struct {
	Mode    QuorumMode
	Minimum int
}

// For returns the policy in force for g: the graph's own setting when it has
// a valid one, otherwise p.
func (p QuorumPolicy) For(g *models.StageGraph) QuorumPolicy {
	if g == nil || g.Settings.Quorum == nil {
		return p
	}
	mode, err := ParseQuorumMode(g.Settings.Quorum.Mode)
	if err != nil {
		return p
	}
	return QuorumPolicy{Mode: mode, Minimum: g.Settings.Quorum.Minimum}
}

// Check returns a validation error when dist has not met the policy.
func (p QuorumPolicy) Check(dist *models.Distribution) error {
	submitted := len(dist.SubmittedReviewers())
	switch p.Mode {
	case QuorumAll:
		var total int
		if dist != nil {
			total = len(dist.ReviewerIDs)
		}
		if submitted < total {
			return ValidationError("%d of %d reviews submitted; all are required", submitted, total)
		}
	case QuorumMinimum:
		if submitted < p.Minimum {
			return ValidationError("%d reviews submitted; at least %d are required", submitted, p.Minimum)
		}
	}
	return nil
}
