// Package web provides HTTP handlers and REST API endpoints for flow editing and simulation.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/callflow/pkg/editor"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/registry"
	"github.com/dukex/callflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	flowService       *services.Flow
	nodeService       *services.Node
	publishingService *services.Publishing
	sessionService    *services.Session
	validator         *validator.Validate
	registry          *registry.Registry
}

func NewAPIHandlers(
	flowService *services.Flow,
	nodeService *services.Node,
	publishingService *services.Publishing,
	sessionService *services.Session,
	validator *validator.Validate,
	registry *registry.Registry,
) *APIHandlers {
	return &APIHandlers{
		flowService:       flowService,
		nodeService:       nodeService,
		publishingService: publishingService,
		sessionService:    sessionService,
		validator:         validator,
		registry:          registry,
	}
}

// Register mounts every route on app.
func (h *APIHandlers) Register(app *fiber.App) {
	f := app.Group("/flows")
	f.Get("/", h.GetFlows)
	f.Post("/", h.CreateFlow)
	f.Get("/:id", h.GetFlow)
	f.Patch("/:id", h.UpdateFlow)
	f.Delete("/:id", h.DeleteFlow)

	// Editing
	f.Patch("/:id/nodes", h.MutateNodes)
	f.Post("/:id/undo", h.Undo)
	f.Post("/:id/redo", h.Redo)
	f.Get("/:id/history", h.GetHistory)
	f.Post("/:id/save", h.SaveFlow)

	// Versioning
	f.Get("/:id/validate", h.ValidateFlow)
	f.Post("/:id/publish", h.PublishFlow)
	f.Post("/:id/rollback/:versionId", h.RollbackFlow)
	f.Get("/:id/versions", h.GetVersions)

	// Simulation
	f.Get("/:id/sessions", h.ListSessions)
	f.Post("/:id/sessions", h.StartSession)
	f.Get("/:id/sessions/:sessionId", h.GetSession)
	f.Delete("/:id/sessions/:sessionId", h.DeleteSession)
	f.Post("/:id/sessions/:sessionId/input", h.SubmitInput)
	f.Post("/:id/sessions/:sessionId/stop", h.StopSession)
	f.Post("/:id/sessions/:sessionId/reset", h.ResetSession)

	app.Get("/node-types", h.GetNodeTypes)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetFlows(c fiber.Ctx) error {
	req, err := h.parseListFlowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.flowService.ListFlows(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"flows":         result.Flows,
		"total_count":   result.TotalCount,
		"has_next_page": result.HasNextPage,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
		"sorting": fiber.Map{
			"sort_by":    req.SortBy,
			"sort_order": req.SortOrder,
		},
	})
}

// parseListFlowsRequest parses query parameters for listing flows.
func (h *APIHandlers) parseListFlowsRequest(c fiber.Ctx) (*services.ListFlowsRequest, error) {
	req := &services.ListFlowsRequest{}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	req.OwnerID = c.Query("owner")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.FlowStatus(statusStr)
		req.Status = &status
	}

	req.SortBy = c.Query("sort_by")
	req.SortOrder = c.Query("sort_order")

	return req, nil
}

func (h *APIHandlers) GetFlow(c fiber.Ctx) error {
	flow, err := h.flowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.flowService.HealthCheck(c.Context())

	registryCheck, regOk := "Registry is empty", false
	if n := len(h.registry.NodeTypes()); n > 0 {
		registryCheck, regOk = strconv.Itoa(n)+" node types registered", true
	}

	status := "unhealthy"
	message := "Callflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Callflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) CreateFlow(c fiber.Ctx) error {
	var req CreateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.flowService.Create(c.Context(), services.CreateFlowRequest{
		Name:        req.Name,
		Description: req.Description,
		Owner:       req.Owner,
		Tags:        req.Tags,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateFlow(c fiber.Ctx) error {
	var req UpdateFlowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	update := services.UpdateFlowRequest{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
	}

	if req.Status != nil {
		status := models.FlowStatus(*req.Status)
		update.Status = &status
	}

	updated, err := h.flowService.Update(c.Context(), c.Params("id"), update)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteFlow(c fiber.Ctx) error {
	if err := h.flowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// MutateNodes applies one editor operation to the flow's node set.
func (h *APIHandlers) MutateNodes(c fiber.Ctx) error {
	var op editor.Operation
	if err := c.Bind().JSON(&op); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	// Node IDs may be left for the editor to generate, so only the kind is checked here.
	if err := h.validator.StructPartial(op, "Op"); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.nodeService.Apply(c.Context(), c.Params("id"), op)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) Undo(c fiber.Ctx) error {
	flow, err := h.nodeService.Undo(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) Redo(c fiber.Ctx) error {
	flow, err := h.nodeService.Redo(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.flowService.FetchByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.nodeService.History(id))
}

func (h *APIHandlers) SaveFlow(c fiber.Ctx) error {
	var req SaveFlowRequest
	if err := h.bindOptional(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	flow, err := h.nodeService.Save(c.Context(), c.Params("id"), req.Notes)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) ValidateFlow(c fiber.Ctx) error {
	result, err := h.publishingService.Validate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformValidationResult(result))
}

func (h *APIHandlers) PublishFlow(c fiber.Ctx) error {
	var req PublishFlowRequest
	if err := h.bindOptional(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	published, err := h.publishingService.Publish(c.Context(), c.Params("id"), services.PublishRequest{
		Author: req.Author,
		Notes:  req.Notes,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) RollbackFlow(c fiber.Ctx) error {
	flow, err := h.publishingService.Rollback(c.Context(), c.Params("id"), c.Params("versionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(flow)
}

func (h *APIHandlers) GetVersions(c fiber.Ctx) error {
	versions, err := h.publishingService.Versions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) ListSessions(c fiber.Ctx) error {
	ids, err := h.sessionService.List(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	if ids == nil {
		ids = []string{}
	}

	return c.JSON(fiber.Map{"sessions": ids})
}

func (h *APIHandlers) StartSession(c fiber.Ctx) error {
	result, err := h.sessionService.Start(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformSessionResult(result))
}

func (h *APIHandlers) GetSession(c fiber.Ctx) error {
	session, err := h.sessionService.Get(c.Context(), c.Params("id"), c.Params("sessionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(session)
}

func (h *APIHandlers) SubmitInput(c fiber.Ctx) error {
	var req SubmitInputRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.sessionService.Input(c.Context(), c.Params("id"), c.Params("sessionId"), req.Value)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformSessionResult(result))
}

func (h *APIHandlers) StopSession(c fiber.Ctx) error {
	result, err := h.sessionService.Stop(c.Context(), c.Params("id"), c.Params("sessionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformSessionResult(result))
}

func (h *APIHandlers) ResetSession(c fiber.Ctx) error {
	result, err := h.sessionService.Reset(c.Context(), c.Params("id"), c.Params("sessionId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformSessionResult(result))
}

func (h *APIHandlers) DeleteSession(c fiber.Ctx) error {
	if err := h.sessionService.Delete(c.Context(), c.Params("id"), c.Params("sessionId")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"node_types": h.registry.NodeTypes()})
}

// bindOptional decodes and validates a body that may be omitted.
func (h *APIHandlers) bindOptional(c fiber.Ctx, out any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(out); err != nil {
			return errInvalidJSON
		}
	}

	return h.validator.Struct(out)
}
