// Package api contains the HTTP handlers for the document approval service.
package api

import (
	"net/http"

	"doc-approval/backend/internal/auth"
	"doc-approval/backend/internal/services"
	"doc-approval/backend/internal/workflow"
	"doc-approval/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// Server holds the dependencies for the API server.
type Server struct {
	Service services.WorkflowService
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(svc services.WorkflowService) *Server {
	return &Server{Service: svc}
}

// StartRequest is the body of POST /instances/{documentId}/start.
type StartRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// AdvanceRequest is the body of POST /instances/{documentId}/advance.
type AdvanceRequest struct {
	TargetStageID string         `json:"target_stage_id"`
	Action        string         `json:"action"`
	Metadata      map[string]any `json:"metadata"`
}

// DistributeRequest is the body of POST /instances/{documentId}/distribute.
type DistributeRequest struct {
	FromStageID string   `json:"from_stage_id"`
	ReviewerIDs []string `json:"reviewer_ids"`
}

// ReviewRequest is the body of POST /instances/{documentId}/reviews.
type ReviewRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Review     string `json:"review"`
}

func actor(c echo.Context) (models.Actor, error) {
	a, ok := auth.ActorFrom(c.Request().Context())
	if !ok {
		return models.Actor{}, workflow.UnauthorizedError("no authenticated actor")
	}
	return a, nil
}

func bind(c echo.Context, dest any) error {
	if err := c.Bind(dest); err != nil {
		return workflow.ValidationError("invalid request body: %v", err)
	}
	return nil
}

func ok(c echo.Context, fields echo.Map) error {
	body := echo.Map{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(http.StatusOK, body)
}

// ListDefinitions returns the latest version of each workflow.
// (GET /api/v1/definitions)
func (s *Server) ListDefinitions(c echo.Context) error {
	defs, err := s.Service.ListDefinitions(c.Request().Context())
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"workflows": defs})
}

// GetDefinition returns one workflow graph.
// (GET /api/v1/definitions/{workflowId})
func (s *Server) GetDefinition(c echo.Context, workflowID string, params GetDefinitionParams) error {
	version := 0
	if params.Version != nil {
		version = *params.Version
	}
	g, err := s.Service.GetDefinition(c.Request().Context(), workflowID, version)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"workflow": g})
}

// ListInstances pages through instances visible to the caller.
// (GET /api/v1/instances)
func (s *Server) ListInstances(c echo.Context, params ListInstancesParams) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	filter := models.InstanceFilter{Active: params.Active}
	if params.WorkflowID != nil {
		filter.WorkflowID = *params.WorkflowID
	}
	if params.StageID != nil {
		filter.StageID = *params.StageID
	}
	if params.Limit != nil {
		filter.Limit = *params.Limit
	}
	if params.Offset != nil {
		filter.Offset = *params.Offset
	}
	page, err := s.Service.ListInstances(c.Request().Context(), filter, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{
		"instances": page.Instances,
		"total":     page.Total,
		"limit":     page.Limit,
		"offset":    page.Offset,
	})
}

// GetInstance returns the document's instance.
// (GET /api/v1/instances/{documentId})
func (s *Server) GetInstance(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	inst, err := s.Service.GetInstance(c.Request().Context(), documentID, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"instance": inst})
}

// StartWorkflow starts a workflow on the document.
// (POST /api/v1/instances/{documentId}/start)
func (s *Server) StartWorkflow(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req StartRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inst, err := s.Service.Start(c.Request().Context(), documentID, req.WorkflowID, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"instance": inst})
}

// AdvanceWorkflow moves the document to another stage.
// (POST /api/v1/instances/{documentId}/advance)
func (s *Server) AdvanceWorkflow(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req AdvanceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inst, err := s.Service.Advance(c.Request().Context(), documentID, req.TargetStageID, req.Action, req.Metadata, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"instance": inst})
}

// ResetWorkflow deactivates the document's instance.
// (POST /api/v1/instances/{documentId}/reset)
func (s *Server) ResetWorkflow(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	if err := s.Service.Reset(c.Request().Context(), documentID, a); err != nil {
		return err
	}
	return ok(c, nil)
}

// Distribute fans the document out to reviewers.
// (POST /api/v1/instances/{documentId}/distribute)
func (s *Server) Distribute(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req DistributeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	stageID, err := s.Service.Distribute(c.Request().Context(), documentID, req.FromStageID, req.ReviewerIDs, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"new_stage_id": stageID})
}

// SubmitReview records one reviewer's feedback.
// (POST /api/v1/instances/{documentId}/reviews)
func (s *Server) SubmitReview(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	var req ReviewRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := s.Service.SubmitReview(c.Request().Context(), documentID, req.ReviewerID, req.Review, a); err != nil {
		return err
	}
	return ok(c, nil)
}

// GetHistory returns the document's ledger.
// (GET /api/v1/instances/{documentId}/history)
func (s *Server) GetHistory(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	entries, err := s.Service.History(c.Request().Context(), documentID, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"history": entries})
}

// GetActions returns what the caller may do next.
// (GET /api/v1/instances/{documentId}/actions)
func (s *Server) GetActions(c echo.Context, documentID string) error {
	a, err := actor(c)
	if err != nil {
		return err
	}
	actions, err := s.Service.AvailableActions(c.Request().Context(), documentID, a)
	if err != nil {
		return err
	}
	return ok(c, echo.Map{"actions": actions})
}
