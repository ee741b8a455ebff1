package models

import (
	"time"
)

// Instance is the mutable runtime state of one document's progress through a
// stage graph. There is one record per document; a restart begins a new
// lifecycle on the same record.
type Instance struct {
	ID              string         `json:"id"`
	DocumentID      string         `json:"document_id"`
	WorkflowID      string         `json:"workflow_id"`
	WorkflowVersion int            `json:"workflow_version"`
	OrganizationID  string         `json:"organization_id,omitempty"`
	CurrentStageID  string         `json:"current_stage_id"`
	Active          bool           `json:"active"`
	Lifecycle       int            `json:"lifecycle"`
	Version         int64          `json:"version"` // Optimistic concurrency stamp
	Metadata        map[string]any `json:"metadata"`
	Distribution    *Distribution  `json:"distribution,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`

	// PriorDistributions keeps earlier fan-out rounds of this lifecycle.
	PriorDistributions []Distribution `json:"prior_distributions,omitempty"`
}

// Distribution records one fan-out round.
type Distribution struct {
	StageID           string    `json:"stage_id"`
	OriginStageID     string    `json:"origin_stage_id"`
	ReviewerIDs       []string  `json:"reviewer_ids"`
	DistributedBy     string    `json:"distributed_by"`
	DistributedByRole Role      `json:"distributed_by_role"`
	DistributedAt     time.Time `json:"distributed_at"`
	Reviews           []Review  `json:"reviews"`
}

// Review is one reviewer submission. Reviews are only ever appended.
type Review struct {
	ReviewerID  string    `json:"reviewer_id"`
	Review      string    `json:"review"`
	SubmittedBy string    `json:"submitted_by"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmittedReviewers returns the distinct reviewer ids that have submitted,
// in first-submission order.
func (d *Distribution) SubmittedReviewers() []string {
	if d == nil {
		return nil
	}
	seen := make(map[string]bool, len(d.Reviews))
	var out []string
	for _, r := range d.Reviews {
		if seen[r.ReviewerID] {
			continue
		}
		seen[r.ReviewerID] = true
		out = append(out, r.ReviewerID)
	}
	return out
}

// HasReviewer reports whether id was distributed to.
func (d *Distribution) HasReviewer(id string) bool {
	if d == nil {
		return false
	}
	for _, r := range d.ReviewerIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with i.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Metadata = CloneMetadata(i.Metadata)
	if i.Distribution != nil {
		d := i.Distribution.clone()
		out.Distribution = &d
	}
	if i.PriorDistributions != nil {
		out.PriorDistributions = make([]Distribution, len(i.PriorDistributions))
		for idx := range i.PriorDistributions {
			out.PriorDistributions[idx] = i.PriorDistributions[idx].clone()
		}
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (d Distribution) clone() Distribution {
	out := d
	out.ReviewerIDs = append([]string(nil), d.ReviewerIDs...)
	out.Reviews = append([]Review(nil), d.Reviews...)
	return out
}

// CloneMetadata copies the top level of a metadata map.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	InstanceID  string         `json:"instance_id"`
	Lifecycle   int            `json:"lifecycle"`
	Sequence    int64          `json:"sequence"`
	StageID     string         `json:"stage_id"`
	StageName   string         `json:"stage_name"`
	Action      string         `json:"action"`
	PerformedBy string         `json:"performed_by"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InstanceFilter narrows listInstances.
type InstanceFilter struct {
	OrganizationID string
	WorkflowID     string
	StageID        string
	Active         *bool
	Limit          int
	Offset         int
}

// InstancePage is one page of listInstances.
type InstancePage struct {
	Instances []*Instance `json:"instances"`
	Total     int         `json:"total"`
	Limit     int         `json:"limit"`
	Offset    int         `json:"offset"`
}
