package services

import (
	"context"
	"errors"

	"doc-approval/backend/internal/registry"
	"doc-approval/backend/internal/repository"
	"doc-approval/backend/internal/workflow"
	"doc-approval/backend/pkg/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "doc-approval/backend/internal/services"

// ApprovalService implements WorkflowService on top of the workflow engine.
type ApprovalService struct {
	catalog     *registry.Catalog
	store       repository.InstanceStore
	manager     *workflow.Manager
	coordinator *workflow.Coordinator
	tracer      trace.Tracer
}

var _ WorkflowService = (*ApprovalService)(nil)

// NewApprovalService wires the engine over catalog and store. opts are
// passed to the workflow manager.
func NewApprovalService(catalog *registry.Catalog, store repository.InstanceStore, opts ...workflow.Option) *ApprovalService {
	manager := workflow.NewManager(store, catalog, opts...)
	return &ApprovalService{
		catalog:     catalog,
		store:       store,
		manager:     manager,
		coordinator: workflow.NewCoordinator(manager),
		tracer:      otel.Tracer(tracerName),
	}
}

// WithTracer replaces the global tracer, for tests.
func (s *ApprovalService) WithTracer(tracer trace.Tracer) *ApprovalService {
	s.tracer = tracer
	return s
}

func (s *ApprovalService) span(ctx context.Context, name, documentID string, actor models.Actor) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("workflow.document_id", documentID)}
	if actor.ID != "" {
		attrs = append(attrs,
			attribute.String("workflow.actor.id", actor.ID),
			attribute.String("workflow.actor.role", string(actor.Role)),
		)
	}
	return s.tracer.Start(ctx, "workflow."+name, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindInternal))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := workflow.KindOf(err); kind != "" {
			span.SetAttributes(attribute.String("workflow.error_kind", string(kind)))
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ListDefinitions implements WorkflowService.
func (s *ApprovalService) ListDefinitions(ctx context.Context) ([]models.DefinitionSummary, error) {
	return s.catalog.List(ctx), nil
}

// GetDefinition implements WorkflowService.
func (s *ApprovalService) GetDefinition(ctx context.Context, workflowID string, version int) (*models.StageGraph, error) {
	g, err := s.catalog.Get(ctx, workflowID, version)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, workflow.NotFoundError("workflow %s not found", workflowID)
	}
	return g, err
}

// Start implements WorkflowService.
func (s *ApprovalService) Start(ctx context.Context, documentID, workflowID string, actor models.Actor) (inst *models.Instance, err error) {
	ctx, span := s.span(ctx, "start", documentID, actor)
	span.SetAttributes(attribute.String("workflow.id", workflowID))
	defer func() { end(span, err) }()
	return s.manager.Start(ctx, documentID, workflowID, actor)
}

// Advance implements WorkflowService.
func (s *ApprovalService) Advance(ctx context.Context, documentID, targetStageID, action string, metadata map[string]any, actor models.Actor) (inst *models.Instance, err error) {
	ctx, span := s.span(ctx, "advance", documentID, actor)
	span.SetAttributes(attribute.String("workflow.target_stage", targetStageID), attribute.String("workflow.action", action))
	defer func() { end(span, err) }()
	return s.manager.Advance(ctx, documentID, targetStageID, action, metadata, actor)
}

// Reset implements WorkflowService.
func (s *ApprovalService) Reset(ctx context.Context, documentID string, actor models.Actor) (err error) {
	ctx, span := s.span(ctx, "reset", documentID, actor)
	defer func() { end(span, err) }()
	return s.manager.Reset(ctx, documentID, actor)
}

// GetInstance implements WorkflowService.
func (s *ApprovalService) GetInstance(ctx context.Context, documentID string, actor models.Actor) (inst *models.Instance, err error) {
	ctx, span := s.span(ctx, "get_instance", documentID, actor)
	defer func() { end(span, err) }()
	return s.manager.GetInstance(ctx, documentID, actor)
}

// ListInstances implements WorkflowService.
func (s *ApprovalService) ListInstances(ctx context.Context, filter models.InstanceFilter, actor models.Actor) (page *models.InstancePage, err error) {
	ctx, span := s.span(ctx, "list_instances", "", actor)
	defer func() { end(span, err) }()
	return s.manager.ListInstances(ctx, filter, actor)
}

// Distribute implements WorkflowService.
func (s *ApprovalService) Distribute(ctx context.Context, documentID, fromStageID string, reviewerIDs []string, actor models.Actor) (stageID string, err error) {
	ctx, span := s.span(ctx, "distribute", documentID, actor)
	span.SetAttributes(attribute.String("workflow.from_stage", fromStageID), attribute.Int("workflow.reviewers", len(reviewerIDs)))
	defer func() { end(span, err) }()
	return s.coordinator.Distribute(ctx, documentID, fromStageID, reviewerIDs, actor)
}

// SubmitReview implements WorkflowService.
func (s *ApprovalService) SubmitReview(ctx context.Context, documentID, reviewerID, review string, actor models.Actor) (err error) {
	ctx, span := s.span(ctx, "submit_review", documentID, actor)
	defer func() { end(span, err) }()
	return s.coordinator.SubmitReview(ctx, documentID, reviewerID, review, actor)
}

// AvailableActions implements WorkflowService.
func (s *ApprovalService) AvailableActions(ctx context.Context, documentID string, actor models.Actor) (actions []workflow.ResolvedAction, err error) {
	ctx, span := s.span(ctx, "available_actions", documentID, actor)
	defer func() { end(span, err) }()
	return s.manager.AvailableActions(ctx, documentID, actor)
}

// History implements WorkflowService.
func (s *ApprovalService) History(ctx context.Context, documentID string, actor models.Actor) (entries []models.HistoryEntry, err error) {
	ctx, span := s.span(ctx, "history", documentID, actor)
	defer func() { end(span, err) }()
	return s.manager.History(ctx, documentID, actor)
}

// Ready implements WorkflowService.
func (s *ApprovalService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}
