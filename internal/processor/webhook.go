package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/talentflow/bulkops-engine/internal/domain"
)

const defaultDashboardTimeout = 10 * time.Second

// DashboardClient calls the recruitment dashboard's data API, which owns the
// actual side effects (sending mail, moving pipeline stages, booking
// interviews, enriching profiles). One client is shared by all webhook
// processors.
type DashboardClient struct {
	client  *resty.Client
	baseURL string
}

func NewDashboardClient(baseURL string) (*DashboardClient, error) {
	client := resty.New()
	client.SetTimeout(defaultDashboardTimeout)
	client.SetRetryCount(0)

	return NewDashboardClientWithClient(baseURL, client)
}

func NewDashboardClientWithClient(baseURL string, client *resty.Client) (*DashboardClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("dashboard api url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid dashboard api url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDashboardTimeout)
	}
	client.SetRetryCount(0)

	return &DashboardClient{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (c *DashboardClient) post(ctx context.Context, path string, body any) (*Result, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("dashboard client is not initialized")
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		return nil, &ProcessorError{
			Message:   "dashboard api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProcessorError{
			Message:   "dashboard api returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			StatusCode: statusCode,
			Detail:     responseBody,
		}, nil
	}

	return nil, &ProcessorError{
		StatusCode: statusCode,
		Message:    dashboardErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func dashboardErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("dashboard api returned status %d", statusCode)
	if body == "" {
		return base
	}

	const maxBodyInMessage = 256
	if len(body) > maxBodyInMessage {
		body = body[:maxBodyInMessage]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

type sendEmailRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// EmailProcessor sends one templated email per candidate.
type EmailProcessor struct {
	api *DashboardClient
}

func NewEmailProcessor(api *DashboardClient) *EmailProcessor {
	return &EmailProcessor{api: api}
}

func (p *EmailProcessor) Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*Result, error) {
	emailParams, ok := params.(*domain.EmailParams)
	if !ok {
		return nil, fmt.Errorf("email processor received %T parameters", params)
	}

	return p.api.post(ctx, fmt.Sprintf("/candidates/%s/emails", item.ItemID), sendEmailRequest{
		Subject: emailParams.Subject,
		Body:    emailParams.Body,
		ReplyTo: emailParams.ReplyTo,
	})
}

type statusUpdateRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// StatusUpdateProcessor moves one candidate to a new pipeline stage.
type StatusUpdateProcessor struct {
	api *DashboardClient
}

func NewStatusUpdateProcessor(api *DashboardClient) *StatusUpdateProcessor {
	return &StatusUpdateProcessor{api: api}
}

func (p *StatusUpdateProcessor) Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*Result, error) {
	statusParams, ok := params.(*domain.StatusUpdateParams)
	if !ok {
		return nil, fmt.Errorf("status update processor received %T parameters", params)
	}

	return p.api.post(ctx, fmt.Sprintf("/candidates/%s/status", item.ItemID), statusUpdateRequest{
		Status: strings.ToLower(strings.TrimSpace(statusParams.NewStatus)),
		Note:   statusParams.Note,
	})
}

type scheduleInterviewRequest struct {
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Interviewer     string    `json:"interviewer"`
	Location        string    `json:"location,omitempty"`
}

// InterviewScheduleProcessor books one interview slot per candidate.
type InterviewScheduleProcessor struct {
	api *DashboardClient
}

func NewInterviewScheduleProcessor(api *DashboardClient) *InterviewScheduleProcessor {
	return &InterviewScheduleProcessor{api: api}
}

func (p *InterviewScheduleProcessor) Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*Result, error) {
	interviewParams, ok := params.(*domain.InterviewScheduleParams)
	if !ok {
		return nil, fmt.Errorf("interview schedule processor received %T parameters", params)
	}

	return p.api.post(ctx, fmt.Sprintf("/candidates/%s/interviews", item.ItemID), scheduleInterviewRequest{
		StartsAt:        interviewParams.StartsAt,
		DurationMinutes: interviewParams.DurationMinutes,
		Interviewer:     interviewParams.Interviewer,
		Location:        interviewParams.Location,
	})
}

type enrichRequest struct {
	Fields []string `json:"fields"`
}

// EnrichmentProcessor asks the enrichment provider to refresh one profile.
type EnrichmentProcessor struct {
	api *DashboardClient
}

func NewEnrichmentProcessor(api *DashboardClient) *EnrichmentProcessor {
	return &EnrichmentProcessor{api: api}
}

func (p *EnrichmentProcessor) Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*Result, error) {
	enrichmentParams, ok := params.(*domain.EnrichmentParams)
	if !ok {
		return nil, fmt.Errorf("enrichment processor received %T parameters", params)
	}

	return p.api.post(ctx, fmt.Sprintf("/candidates/%s/enrich", item.ItemID), enrichRequest{
		Fields: enrichmentParams.Fields,
	})
}

// Get fetches one candidate record as raw JSON, used by the export
// processor to build artifacts.
func (c *DashboardClient) Get(ctx context.Context, candidateID string) ([]byte, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("dashboard client is not initialized")
	}

	response, err := c.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("%s/candidates/%s", c.baseURL, candidateID))
	if err != nil {
		return nil, &ProcessorError{
			Message:   "dashboard api request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return response.Body(), nil
	}

	return nil, &ProcessorError{
		StatusCode: statusCode,
		Message:    dashboardErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}
