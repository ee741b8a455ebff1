package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListInstancesParams defines parameters for ListInstances.
type ListInstancesParams struct {
	WorkflowID *string `form:"workflowId,omitempty" json:"workflowId,omitempty"`
	StageID    *string `form:"stageId,omitempty" json:"stageId,omitempty"`
	Active     *bool   `form:"active,omitempty" json:"active,omitempty"`
	Limit      *int    `form:"limit,omitempty" json:"limit,omitempty"`
	Offset     *int    `form:"offset,omitempty" json:"offset,omitempty"`
}

// GetDefinitionParams defines parameters for GetDefinition.
type GetDefinitionParams struct {
	Version *int `form:"version,omitempty" json:"version,omitempty"`
}

// ServerInterface represents all server handlers of openapi.yaml.
type ServerInterface interface {
	// (GET /definitions)
	ListDefinitions(ctx echo.Context) error
	// (GET /definitions/{workflowId})
	GetDefinition(ctx echo.Context, workflowID string, params GetDefinitionParams) error
	// (GET /instances)
	ListInstances(ctx echo.Context, params ListInstancesParams) error
	// (GET /instances/{documentId})
	GetInstance(ctx echo.Context, documentID string) error
	// (POST /instances/{documentId}/start)
	StartWorkflow(ctx echo.Context, documentID string) error
	// (POST /instances/{documentId}/advance)
	AdvanceWorkflow(ctx echo.Context, documentID string) error
	// (POST /instances/{documentId}/reset)
	ResetWorkflow(ctx echo.Context, documentID string) error
	// (POST /instances/{documentId}/distribute)
	Distribute(ctx echo.Context, documentID string) error
	// (POST /instances/{documentId}/reviews)
	SubmitReview(ctx echo.Context, documentID string) error
	// (GET /instances/{documentId}/history)
	GetHistory(ctx echo.Context, documentID string) error
	// (GET /instances/{documentId}/actions)
	GetActions(ctx echo.Context, documentID string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func pathParam(ctx echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

func queryParam(ctx echo.Context, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, ctx.QueryParams(), dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return nil
}

// ListDefinitions converts echo context to params.
func (w *ServerInterfaceWrapper) ListDefinitions(ctx echo.Context) error {
	return w.Handler.ListDefinitions(ctx)
}

// GetDefinition converts echo context to params.
func (w *ServerInterfaceWrapper) GetDefinition(ctx echo.Context) error {
	workflowID, err := pathParam(ctx, "workflowId")
	if err != nil {
		return err
	}
	var params GetDefinitionParams
	if err := queryParam(ctx, "version", &params.Version); err != nil {
		return err
	}
	return w.Handler.GetDefinition(ctx, workflowID, params)
}

// ListInstances converts echo context to params.
func (w *ServerInterfaceWrapper) ListInstances(ctx echo.Context) error {
	var params ListInstancesParams
	if err := queryParam(ctx, "workflowId", &params.WorkflowID); err != nil {
		return err
	}
	if err := queryParam(ctx, "stageId", &params.StageID); err != nil {
		return err
	}
	if err := queryParam(ctx, "active", &params.Active); err != nil {
		return err
	}
	if err := queryParam(ctx, "limit", &params.Limit); err != nil {
		return err
	}
	if err := queryParam(ctx, "offset", &params.Offset); err != nil {
		return err
	}
	return w.Handler.ListInstances(ctx, params)
}

// documentRoute binds the documentId path parameter for fn.
func (w *ServerInterfaceWrapper) documentRoute(fn func(echo.Context, string) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		documentID, err := pathParam(ctx, "documentId")
		if err != nil {
			return err
		}
		return fn(ctx, documentID)
	}
}

// EchoRouter is satisfied by *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the router.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.GET("/definitions", w.ListDefinitions)
	router.GET("/definitions/:workflowId", w.GetDefinition)
	router.GET("/instances", w.ListInstances)
	router.GET("/instances/:documentId", w.documentRoute(si.GetInstance))
	router.POST("/instances/:documentId/start", w.documentRoute(si.StartWorkflow))
	router.POST("/instances/:documentId/advance", w.documentRoute(si.AdvanceWorkflow))
	router.POST("/instances/:documentId/reset", w.documentRoute(si.ResetWorkflow))
	router.POST("/instances/:documentId/distribute", w.documentRoute(si.Distribute))
	router.POST("/instances/:documentId/reviews", w.documentRoute(si.SubmitReview))
	router.GET("/instances/:documentId/history", w.documentRoute(si.GetHistory))
	router.GET("/instances/:documentId/actions", w.documentRoute(si.GetActions))
}
