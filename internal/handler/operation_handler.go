package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"github.com/talentflow/bulkops-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100

	actorHeader = "X-Actor-ID"
)

type OperationService interface {
	Create(ctx context.Context, req service.CreateRequest) (*domain.BulkOperation, error)
	GetDetails(ctx context.Context, id string) (*service.OperationDetails, error)
	List(ctx context.Context, params repository.ListParams) (*service.OperationPage, error)
	Cancel(ctx context.Context, id string) (*domain.BulkOperation, error)
	Stats(ctx context.Context) (*service.EngineStats, error)
}

type OperationHandler struct {
	service OperationService
}

func NewOperationHandler(service OperationService) (*OperationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("operation service is required")
	}
	return &OperationHandler{service: service}, nil
}

func RegisterOperationRoutes(router fiber.Router, service OperationService) error {
	h, err := NewOperationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/bulk-operations", h.CreateOperation)
	v1.Get("/bulk-operations", h.ListOperations)
	// Registered before :id so "stats" is not captured as an operation id.
	v1.Get("/bulk-operations/stats", h.GetStats)
	v1.Get("/bulk-operations/:id", h.GetOperation)
	v1.Post("/bulk-operations/:id/cancel", h.CancelOperation)

	return nil
}

type createOperationRequest struct {
	Type        string          `json:"type"`
	ItemIDs     []string        `json:"itemIds"`
	Parameters  json.RawMessage `json:"parameters"`
	RequestedBy string          `json:"requestedBy"`
}

type operationResponse struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	Progress        int             `json:"progress"`
	TotalItems      int             `json:"totalItems"`
	ProcessedItems  int             `json:"processedItems"`
	SuccessCount    int             `json:"successCount"`
	FailureCount    int             `json:"failureCount"`
	FailureReason   *string         `json:"failureReason,omitempty"`
	CancelRequested bool            `json:"cancelRequested"`
	RequestedBy     string          `json:"requestedBy"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

type operationItemResponse struct {
	ItemID       string  `json:"itemId"`
	Position     int     `json:"position"`
	Status       string  `json:"status"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

type operationDetailsResponse struct {
	operationResponse
	Items []operationItemResponse `json:"items"`
}

type listOperationsResponse struct {
	Data []operationResponse `json:"data"`
	Meta listMeta            `json:"meta"`
}

type listMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type statsResponse struct {
	TotalOperations      int64   `json:"totalOperations"`
	CompletedOperations  int64   `json:"completedOperations"`
	FailedOperations     int64   `json:"failedOperations"`
	ProcessingOperations int64   `json:"processingOperations"`
	PendingOperations    int64   `json:"pendingOperations"`
	CancelledOperations  int64   `json:"cancelledOperations"`
	TotalItems           int64   `json:"totalItems"`
	SuccessRate          float64 `json:"successRate"`
}

func (h *OperationHandler) CreateOperation(c *fiber.Ctx) error {
	var req createOperationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	opType, err := domain.ParseOperationTypeFromString(req.Type)
	if err != nil {
		return toHTTPError(err)
	}

	actor := strings.TrimSpace(c.Get(actorHeader))
	if actor == "" {
		actor = strings.TrimSpace(req.RequestedBy)
	}
	if actor == "" {
		return toHTTPError(fmt.Errorf("%w: %s header or requestedBy is required", domain.ErrValidation, actorHeader))
	}

	op, err := h.service.Create(c.Context(), service.CreateRequest{
		Type:        opType,
		ItemIDs:     req.ItemIDs,
		Parameters:  req.Parameters,
		RequestedBy: actor,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toOperationResponse(op, true))
}

func (h *OperationHandler) GetOperation(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	details, err := h.service.GetDetails(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]operationItemResponse, 0, len(details.Items))
	for _, item := range details.Items {
		items = append(items, operationItemResponse{
			ItemID:       item.ItemID,
			Position:     item.Position,
			Status:       item.Status.String(),
			ErrorMessage: item.ErrorMessage,
		})
	}

	return c.Status(fiber.StatusOK).JSON(operationDetailsResponse{
		operationResponse: toOperationResponse(&details.Operation, true),
		Items:             items,
	})
}

func (h *OperationHandler) CancelOperation(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	op, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toOperationResponse(op, false))
}

func (h *OperationHandler) ListOperations(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	page, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]operationResponse, 0, len(page.Operations))
	for i := range page.Operations {
		data = append(data, toOperationResponse(&page.Operations[i], false))
	}

	return c.Status(fiber.StatusOK).JSON(listOperationsResponse{
		Data: data,
		Meta: listMeta{
			Page:       page.Page,
			PageSize:   page.PageSize,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		},
	})
}

func (h *OperationHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(statsResponse{
		TotalOperations:      stats.TotalOperations,
		CompletedOperations:  stats.CompletedOperations,
		FailedOperations:     stats.FailedOperations,
		ProcessingOperations: stats.ProcessingOperations,
		PendingOperations:    stats.PendingOperations,
		CancelledOperations:  stats.CancelledOperations,
		TotalItems:           stats.TotalItems,
		SuccessRate:          stats.SuccessRate,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseOperationStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawType := strings.TrimSpace(c.Query("type")); rawType != "" {
		opType, err := domain.ParseOperationTypeFromString(rawType)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Type = &opType
	}

	return params, nil
}

func toOperationResponse(op *domain.BulkOperation, includeParameters bool) operationResponse {
	if op == nil {
		return operationResponse{}
	}

	resp := operationResponse{
		ID:              op.ID,
		Type:            op.Type.String(),
		Status:          op.Status.String(),
		Progress:        op.Progress(),
		TotalItems:      op.TotalItems,
		ProcessedItems:  op.ProcessedItems,
		SuccessCount:    op.SuccessCount,
		FailureCount:    op.FailureCount,
		FailureReason:   op.FailureReason,
		CancelRequested: op.CancelRequested,
		RequestedBy:     op.RequestedBy,
		CreatedAt:       op.CreatedAt,
		UpdatedAt:       op.UpdatedAt,
		CompletedAt:     op.CompletedAt,
	}
	if includeParameters {
		resp.Parameters = json.RawMessage(op.Parameters)
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
