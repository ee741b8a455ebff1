package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"doc-approval/backend/internal/auth"
	"doc-approval/backend/internal/services"
	"doc-approval/backend/internal/workflow"
	"doc-approval/backend/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the workflow operations as MCP tools. Every tool acts as
// the actor RequireAuth placed in the request context.
type Server struct {
	mcpServer *server.MCPServer
	service   services.WorkflowService
}

func NewServer(service services.WorkflowService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Document Approval",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		service: service,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_definitions",
			mcp.WithDescription("List published workflow definitions"),
		),
		s.handleListDefinitions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_instance",
			mcp.WithDescription("Get the workflow instance of a document"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
		),
		s.handleGetInstance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_instances",
			mcp.WithDescription("List workflow instances visible to the caller"),
			mcp.WithString("workflow_id", mcp.Description("Only instances of this workflow")),
			mcp.WithString("stage_id", mcp.Description("Only instances at this stage")),
			mcp.WithBoolean("active", mcp.Description("Only active (true) or inactive (false) instances")),
			mcp.WithNumber("limit", mcp.Description("Page size, at most 100")),
			mcp.WithNumber("offset", mcp.Description("Number of instances to skip")),
		),
		s.handleListInstances,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"available_actions",
			mcp.WithDescription("List the actions the caller may take on a document, with reasons for denied ones"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
		),
		s.handleAvailableActions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"start_workflow",
			mcp.WithDescription("Start a workflow on a document"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow definition ID")),
		),
		s.handleStart,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"advance_workflow",
			mcp.WithDescription("Move a document to another stage. Give a target stage, an action, or both"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
			mcp.WithString("target_stage_id", mcp.Description("The stage to move to")),
			mcp.WithString("action", mcp.Description("Action id or label, e.g. Publish")),
			mcp.WithObject("metadata", mcp.Description("Metadata merged into the instance")),
		),
		s.handleAdvance,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reset_workflow",
			mcp.WithDescription("Deactivate the workflow of a document. History is kept"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
		),
		s.handleReset,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"distribute",
			mcp.WithDescription("Distribute a document to reviewers from a coordination stage"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
			mcp.WithString("from_stage_id", mcp.Required(), mcp.Description("The coordination stage, e.g. 3")),
			mcp.WithArray("reviewer_ids", mcp.Required(), mcp.Description("Reviewer IDs"), mcp.WithStringItems()),
		),
		s.handleDistribute,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"submit_review",
			mcp.WithDescription("Submit a review during a review collection phase"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
			mcp.WithString("reviewer_id", mcp.Required(), mcp.Description("The reviewer submitting")),
			mcp.WithString("review", mcp.Required(), mcp.Description("The review text")),
		),
		s.handleSubmitReview,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_history",
			mcp.WithDescription("Get the audit history of a document"),
			mcp.WithString("document_id", mcp.Required(), mcp.Description("The document ID")),
		),
		s.handleGetHistory,
	)
}

// toolError renders err in the API error envelope.
func toolError(err error) *mcp.CallToolResult {
	body := map[string]any{"success": false, "error": "internal", "reason": "internal server error"}
	var werr *workflow.Error
	if errors.As(err, &werr) {
		body["error"] = string(werr.Kind)
		body["reason"] = werr.Reason
	}
	jsonBytes, _ := json.Marshal(body)
	return mcp.NewToolResultError(string(jsonBytes))
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func requireString(args map[string]any, name string) (string, *mcp.CallToolResult) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return v, nil
}

func callerFrom(ctx context.Context) (models.Actor, *mcp.CallToolResult) {
	actor, ok := auth.ActorFrom(ctx)
	if !ok {
		return models.Actor{}, toolError(workflow.UnauthorizedError("no authenticated actor"))
	}
	return actor, nil
}

func (s *Server) handleListDefinitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defs, err := s.service.ListDefinitions(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(defs)
}

func (s *Server) handleGetInstance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	docID, res := requireString(request.GetArguments(), "document_id")
	if res != nil {
		return res, nil
	}
	inst, err := s.service.GetInstance(ctx, docID, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(inst)
}

func (s *Server) handleListInstances(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	args := request.GetArguments()
	var filter models.InstanceFilter
	filter.WorkflowID, _ = args["workflow_id"].(string)
	filter.StageID, _ = args["stage_id"].(string)
	if active, ok := args["active"].(bool); ok {
		filter.Active = &active
	}
	if limit, ok := args["limit"].(float64); ok {
		filter.Limit = int(limit)
	}
	if offset, ok := args["offset"].(float64); ok {
		filter.Offset = int(offset)
	}
	page, err := s.service.ListInstances(ctx, filter, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(page)
}

func (s *Server) handleAvailableActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	docID, res := requireString(request.GetArguments(), "document_id")
	if res != nil {
		return res, nil
	}
	actions, err := s.service.AvailableActions(ctx, docID, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(actions)
}

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	args := request.GetArguments()
	docID, res := requireString(args, "document_id")
	if res != nil {
		return res, nil
	}
	workflowID, res := requireString(args, "workflow_id")
	if res != nil {
		return res, nil
	}
	inst, err := s.service.Start(ctx, docID, workflowID, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(inst)
}

func (s *Server) handleAdvance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	args := request.GetArguments()
	docID, res := requireString(args, "document_id")
	if res != nil {
		return res, nil
	}
	target, _ := args["target_stage_id"].(string)
	action, _ := args["action"].(string)
	metadata, _ := args["metadata"].(map[string]any)

	inst, err := s.service.Advance(ctx, docID, target, action, metadata, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(inst)
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	docID, res := requireString(request.GetArguments(), "document_id")
	if res != nil {
		return res, nil
	}
	if err := s.service.Reset(ctx, docID, actor); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Workflow reset"), nil
}

func (s *Server) handleDistribute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	args := request.GetArguments()
	docID, res := requireString(args, "document_id")
	if res != nil {
		return res, nil
	}
	from, res := requireString(args, "from_stage_id")
	if res != nil {
		return res, nil
	}
	raw, ok := args["reviewer_ids"].([]any)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: reviewer_ids"), nil
	}
	reviewers := make([]string, 0, len(raw))
	for _, r := range raw {
		if id, ok := r.(string); ok {
			reviewers = append(reviewers, id)
		}
	}

	stageID, err := s.service.Distribute(ctx, docID, from, reviewers, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(map[string]any{"success": true, "new_stage_id": stageID})
}

func (s *Server) handleSubmitReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	args := request.GetArguments()
	docID, res := requireString(args, "document_id")
	if res != nil {
		return res, nil
	}
	reviewerID, res := requireString(args, "reviewer_id")
	if res != nil {
		return res, nil
	}
	review, res := requireString(args, "review")
	if res != nil {
		return res, nil
	}
	if err := s.service.SubmitReview(ctx, docID, reviewerID, review, actor); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Review recorded"), nil
}

func (s *Server) handleGetHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, res := callerFrom(ctx)
	if res != nil {
		return res, nil
	}
	docID, res := requireString(request.GetArguments(), "document_id")
	if res != nil {
		return res, nil
	}
	entries, err := s.service.History(ctx, docID, actor)
	if err != nil {
		return toolError(err), nil
	}
	return toolJSON(entries)
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp. The actor that
// RequireAuth resolved for the HTTP request is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if actor, ok := auth.ActorFrom(r.Context()); ok {
				return auth.WithActor(ctx, actor)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
