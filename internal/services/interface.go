package services

import (
	"context"

	"doc-approval/backend/internal/workflow"
	"doc-approval/backend/pkg/models"
)

// WorkflowService is the transport-facing workflow API. Every call carries
// the acting user; implementations authorize server-side.
type WorkflowService interface {
	// ListDefinitions returns the latest version of each published workflow.
	ListDefinitions(ctx context.Context) ([]models.DefinitionSummary, error)
	// GetDefinition returns a workflow graph; version 0 means latest.
	GetDefinition(ctx context.Context, workflowID string, version int) (*models.StageGraph, error)

	Start(ctx context.Context, documentID, workflowID string, actor models.Actor) (*models.Instance, error)
	Advance(ctx context.Context, documentID, targetStageID, action string, metadata map[string]any, actor models.Actor) (*models.Instance, error)
	Reset(ctx context.Context, documentID string, actor models.Actor) error
	// GetInstance and History hide other organizations' documents from non-admins.
	GetInstance(ctx context.Context, documentID string, actor models.Actor) (*models.Instance, error)
	ListInstances(ctx context.Context, filter models.InstanceFilter, actor models.Actor) (*models.InstancePage, error)

	Distribute(ctx context.Context, documentID, fromStageID string, reviewerIDs []string, actor models.Actor) (string, error)
	SubmitReview(ctx context.Context, documentID, reviewerID, review string, actor models.Actor) error

	// AvailableActions resolves the actions actor may take now.
	AvailableActions(ctx context.Context, documentID string, actor models.Actor) ([]workflow.ResolvedAction, error)
	// History returns the document's ledger in append order.
	History(ctx context.Context, documentID string, actor models.Actor) ([]models.HistoryEntry, error)

	// Ready reports whether the backing store is reachable.
	Ready(ctx context.Context) error
}
