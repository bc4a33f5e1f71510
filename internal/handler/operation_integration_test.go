package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"github.com/talentflow/bulkops-engine/internal/service"
	"github.com/talentflow/bulkops-engine/internal/transport"
	"go.uber.org/zap"
)

func TestOperationIntegration_CreateOperation(t *testing.T) {
	t.Parallel()

	svc := &stubOperationService{
		createFn: func(ctx context.Context, req service.CreateRequest) (*domain.BulkOperation, error) {
			if req.Type != domain.TypeBulkEmail {
				t.Fatalf("type = %s, want BULK_EMAIL", req.Type)
			}
			if req.RequestedBy != "recruiter-7" {
				t.Fatalf("requestedBy = %q, want recruiter-7", req.RequestedBy)
			}
			if len(req.ItemIDs) != 3 {
				t.Fatalf("itemIds = %d, want 3", len(req.ItemIDs))
			}
			return &domain.BulkOperation{
				ID:          "op-created",
				Type:        req.Type,
				Status:      domain.OperationStatusPending,
				Parameters:  req.Parameters,
				RequestedBy: req.RequestedBy,
				TotalItems:  len(req.ItemIDs),
			}, nil
		},
	}

	app := newOperationTestApp(t, svc)

	validBody := `{"type":"bulk_email","itemIds":["101","102","103"],"parameters":{"subject":"Invite","body":"Hello"}}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/bulk-operations", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["id"] != "op-created" {
		t.Fatalf("id = %v, want op-created", accepted["id"])
	}
	if accepted["status"] != domain.OperationStatusPending.String() {
		t.Fatalf("status = %v, want PENDING", accepted["status"])
	}
	if accepted["progress"] != float64(0) {
		t.Fatalf("progress = %v, want 0", accepted["progress"])
	}
}

func TestOperationIntegration_CreateOperationActorFromBody(t *testing.T) {
	t.Parallel()

	svc := &stubOperationService{
		createFn: func(ctx context.Context, req service.CreateRequest) (*domain.BulkOperation, error) {
			if req.RequestedBy != "recruiter-9" {
				t.Fatalf("requestedBy = %q, want recruiter-9", req.RequestedBy)
			}
			return &domain.BulkOperation{
				ID:          "op-body-actor",
				Type:        req.Type,
				Status:      domain.OperationStatusPending,
				RequestedBy: req.RequestedBy,
				TotalItems:  len(req.ItemIDs),
			}, nil
		},
	}

	app := newOperationTestApp(t, svc)

	body := `{"type":"bulk_email","itemIds":["101"],"requestedBy":"recruiter-9","parameters":{"subject":"s","body":"b"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/bulk-operations", bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestOperationIntegration_CreateOperationRejections(t *testing.T) {
	t.Parallel()

	svc := &stubOperationService{
		createFn: func(ctx context.Context, req service.CreateRequest) (*domain.BulkOperation, error) {
			if len(req.ItemIDs) == 0 {
				return nil, fmt.Errorf("%w: operation requires at least one item id", domain.ErrValidation)
			}
			return nil, fmt.Errorf("%w: subject is required", domain.ErrValidation)
		},
	}

	app := newOperationTestApp(t, svc)

	tests := []struct {
		name      string
		body      string
		withActor bool
	}{
		{name: "unknown type", body: `{"type":"bulk_nope","itemIds":["101"]}`, withActor: true},
		{name: "no items", body: `{"type":"bulk_email","parameters":{"subject":"s","body":"b"}}`, withActor: true},
		{name: "bad params", body: `{"type":"bulk_email","itemIds":["101"],"parameters":{"body":"b"}}`, withActor: true},
		{name: "missing actor identity", body: `{"type":"bulk_email","itemIds":["101"],"parameters":{"subject":"s","body":"b"}}`, withActor: false},
		{name: "malformed json", body: `{"type":`, withActor: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/v1/bulk-operations", bytes.NewBufferString(tt.body))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			if tt.withActor {
				req.Header.Set(actorHeader, "recruiter-7")
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestOperationIntegration_GetOperation(t *testing.T) {
	t.Parallel()

	errorMessage := "candidate not found"
	svc := &stubOperationService{
		getDetailsFn: func(ctx context.Context, id string) (*service.OperationDetails, error) {
			if id != "op-found" {
				return nil, domain.ErrNotFound
			}
			return &service.OperationDetails{
				Operation: domain.BulkOperation{
					ID:             "op-found",
					Type:           domain.TypeBulkEmail,
					Status:         domain.OperationStatusCompleted,
					RequestedBy:    "recruiter-7",
					TotalItems:     3,
					ProcessedItems: 3,
					SuccessCount:   2,
					FailureCount:   1,
				},
				Items: []domain.OperationItem{
					{ItemID: "101", Position: 0, Status: domain.ItemStatusCompleted},
					{ItemID: "102", Position: 1, Status: domain.ItemStatusFailed, ErrorMessage: &errorMessage},
					{ItemID: "103", Position: 2, Status: domain.ItemStatusCompleted},
				},
				Progress: 100,
			}, nil
		},
	}

	app := newOperationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/bulk-operations/op-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		ID             string  `json:"id"`
		Status         string  `json:"status"`
		Progress       int     `json:"progress"`
		TotalItems     int     `json:"totalItems"`
		ProcessedItems int     `json:"processedItems"`
		SuccessCount   int     `json:"successCount"`
		FailureCount   int     `json:"failureCount"`
		Items          []struct {
			ItemID       string  `json:"itemId"`
			Status       string  `json:"status"`
			ErrorMessage *string `json:"errorMessage"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}

	if parsed.TotalItems != 3 || parsed.ProcessedItems != 3 || parsed.SuccessCount != 2 || parsed.FailureCount != 1 {
		t.Fatalf("summary = %+v, want totals 3/3/2/1", parsed)
	}
	if parsed.Status != "COMPLETED" {
		t.Fatalf("status = %s, want COMPLETED despite one failed item", parsed.Status)
	}
	if len(parsed.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(parsed.Items))
	}
	if parsed.Items[1].Status != "FAILED" || parsed.Items[1].ErrorMessage == nil {
		t.Fatalf("item 102 = %+v, want FAILED with message", parsed.Items[1])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/bulk-operations/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestOperationIntegration_CancelOperation(t *testing.T) {
	t.Parallel()

	svc := &stubOperationService{
		cancelFn: func(ctx context.Context, id string) (*domain.BulkOperation, error) {
			switch id {
			case "op-running":
				return &domain.BulkOperation{
					ID:              "op-running",
					Type:            domain.TypeBulkEmail,
					Status:          domain.OperationStatusProcessing,
					CancelRequested: true,
					TotalItems:      1000,
					ProcessedItems:  200,
					SuccessCount:    200,
				}, nil
			case "op-finished":
				return nil, domain.ErrConflict
			default:
				return nil, domain.ErrNotFound
			}
		},
	}

	app := newOperationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/bulk-operations/op-running/cancel", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["cancelRequested"] != true {
		t.Fatalf("cancelRequested = %v, want true", parsed["cancelRequested"])
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/bulk-operations/op-finished/cancel", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for terminal operation", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/bulk-operations/not-exists/cancel", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestOperationIntegration_ListOperationsPaginationAndFilters(t *testing.T) {
	t.Parallel()

	svc := &stubOperationService{
		listFn: func(ctx context.Context, params repository.ListParams) (*service.OperationPage, error) {
			if params.Page != 2 {
				t.Fatalf("page = %d, want 2", params.Page)
			}
			if params.PageSize != 10 {
				t.Fatalf("pageSize = %d, want 10", params.PageSize)
			}
			if params.Status == nil || *params.Status != domain.OperationStatusProcessing {
				t.Fatalf("status filter = %v, want PROCESSING", params.Status)
			}
			if params.Type == nil || *params.Type != domain.TypeBulkExport {
				t.Fatalf("type filter = %v, want BULK_EXPORT", params.Type)
			}

			return &service.OperationPage{
				Operations: []domain.BulkOperation{
					{
						ID:         "op-list-1",
						Type:       domain.TypeBulkExport,
						Status:     domain.OperationStatusProcessing,
						TotalItems: 50,
					},
				},
				Total:      21,
				Page:       2,
				PageSize:   10,
				TotalPages: 3,
			}, nil
		},
	}

	app := newOperationTestApp(t, svc)

	path := "/v1/bulk-operations?page=2&pageSize=10&status=processing&type=bulk_export"
	resp, body := performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page       int   `json:"page"`
			PageSize   int   `json:"pageSize"`
			Total      int64 `json:"total"`
			TotalPages int   `json:"totalPages"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}

	if parsed.Meta.Total != 21 || parsed.Meta.TotalPages != 3 {
		t.Fatalf("meta = %+v, want total=21,totalPages=3", parsed.Meta)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("data len = %d, want 1", len(parsed.Data))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/bulk-operations?pageSize=1000", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized pageSize", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/bulk-operations?status=nope", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status filter", resp.StatusCode)
	}
}

func TestOperationIntegration_GetStats(t *testing.T) {
	t.Parallel()

	svc := &stubOperationService{
		statsFn: func(ctx context.Context) (*service.EngineStats, error) {
			return &service.EngineStats{
				TotalOperations:     12,
				CompletedOperations: 9,
				FailedOperations:    1,
				CancelledOperations: 2,
				TotalItems:          4200,
				SuccessRate:         75,
			}, nil
		},
	}

	app := newOperationTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/bulk-operations/stats", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["totalOperations"] != float64(12) {
		t.Fatalf("totalOperations = %v, want 12", parsed["totalOperations"])
	}
	if parsed["successRate"] != float64(75) {
		t.Fatalf("successRate = %v, want 75", parsed["successRate"])
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubOperationService struct {
	createFn     func(ctx context.Context, req service.CreateRequest) (*domain.BulkOperation, error)
	getDetailsFn func(ctx context.Context, id string) (*service.OperationDetails, error)
	listFn       func(ctx context.Context, params repository.ListParams) (*service.OperationPage, error)
	cancelFn     func(ctx context.Context, id string) (*domain.BulkOperation, error)
	statsFn      func(ctx context.Context) (*service.EngineStats, error)
}

func (s *stubOperationService) Create(ctx context.Context, req service.CreateRequest) (*domain.BulkOperation, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (s *stubOperationService) GetDetails(ctx context.Context, id string) (*service.OperationDetails, error) {
	if s.getDetailsFn != nil {
		return s.getDetailsFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubOperationService) List(ctx context.Context, params repository.ListParams) (*service.OperationPage, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return &service.OperationPage{}, nil
}

func (s *stubOperationService) Cancel(ctx context.Context, id string) (*domain.BulkOperation, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubOperationService) Stats(ctx context.Context) (*service.EngineStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return &service.EngineStats{}, nil
}

func newOperationTestApp(t *testing.T, svc OperationService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterOperationRoutes(app, svc); err != nil {
		t.Fatalf("RegisterOperationRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(actorHeader, "recruiter-7")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
