package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Params is the typed view of an operation's parameter payload. Each
// operation type has its own variant that validates its shape at create
// time, so malformed parameters are rejected before any item is persisted.
type Params interface {
	OperationType() OperationType
	Validate() error
}

// EmailParams configures a bulk_email operation.
type EmailParams struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	ReplyTo string `json:"replyTo,omitempty"`
}

func (EmailParams) OperationType() OperationType { return TypeBulkEmail }

func (p EmailParams) Validate() error {
	if strings.TrimSpace(p.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(p.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if replyTo := strings.TrimSpace(p.ReplyTo); replyTo != "" {
		if _, err := mail.ParseAddress(replyTo); err != nil {
			return fmt.Errorf("%w: replyTo is not a valid email address", ErrValidation)
		}
	}
	return nil
}

// Candidate pipeline stages accepted by bulk_status_update.
var candidateStages = []string{
	"applied", "screening", "interview", "offer", "hired", "rejected", "withdrawn",
}

// StatusUpdateParams configures a bulk_status_update operation.
type StatusUpdateParams struct {
	NewStatus string `json:"newStatus"`
	Note      string `json:"note,omitempty"`
}

func (StatusUpdateParams) OperationType() OperationType { return TypeBulkStatusUpdate }

func (p StatusUpdateParams) Validate() error {
	stage := strings.ToLower(strings.TrimSpace(p.NewStatus))
	for _, known := range candidateStages {
		if stage == known {
			return nil
		}
	}
	return fmt.Errorf("%w: newStatus must be one of %s", ErrValidation, strings.Join(candidateStages, ", "))
}

const (
	minInterviewMinutes = 1
	maxInterviewMinutes = 480
)

// InterviewScheduleParams configures a bulk_interview_schedule operation.
type InterviewScheduleParams struct {
	StartsAt        time.Time `json:"startsAt"`
	DurationMinutes int       `json:"durationMinutes"`
	Interviewer     string    `json:"interviewer"`
	Location        string    `json:"location,omitempty"`
}

func (InterviewScheduleParams) OperationType() OperationType { return TypeBulkInterviewSchedule }

func (p InterviewScheduleParams) Validate() error {
	if p.StartsAt.IsZero() {
		return fmt.Errorf("%w: startsAt is required", ErrValidation)
	}
	if p.DurationMinutes < minInterviewMinutes || p.DurationMinutes > maxInterviewMinutes {
		return fmt.Errorf("%w: durationMinutes must be between %d and %d",
			ErrValidation, minInterviewMinutes, maxInterviewMinutes)
	}
	if strings.TrimSpace(p.Interviewer) == "" {
		return fmt.Errorf("%w: interviewer is required", ErrValidation)
	}
	return nil
}

// ValidateAtCreate rejects submissions scheduled in the past. Only new
// submissions are held to this: an operation accepted with a valid startsAt
// must still execute when queue latency or a requeue delivers it after that
// instant.
func (p InterviewScheduleParams) ValidateAtCreate(now time.Time) error {
	if !p.StartsAt.After(now) {
		return fmt.Errorf("%w: startsAt must be in the future", ErrValidation)
	}
	return nil
}

// Fields the enrichment provider can resolve for a candidate.
var enrichableFields = []string{
	"linkedin", "github", "skills", "experience", "education", "contact",
}

// EnrichmentParams configures a bulk_enrichment operation.
type EnrichmentParams struct {
	Fields []string `json:"fields"`
}

func (EnrichmentParams) OperationType() OperationType { return TypeBulkEnrichment }

func (p EnrichmentParams) Validate() error {
	if len(p.Fields) == 0 {
		return fmt.Errorf("%w: at least one enrichment field is required", ErrValidation)
	}
	for _, field := range p.Fields {
		normalized := strings.ToLower(strings.TrimSpace(field))
		known := false
		for _, candidate := range enrichableFields {
			if normalized == candidate {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: unknown enrichment field %q", ErrValidation, field)
		}
	}
	return nil
}

// ExportFormat is the artifact format produced by bulk_export.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)

// ExportParams configures a bulk_export operation.
type ExportParams struct {
	Format      ExportFormat `json:"format"`
	Destination string       `json:"destination,omitempty"`
}

func (ExportParams) OperationType() OperationType { return TypeBulkExport }

func (p ExportParams) Validate() error {
	switch p.Format {
	case ExportFormatCSV, ExportFormatJSON:
		return nil
	}
	return fmt.Errorf("%w: format must be csv or json", ErrValidation)
}

// CreateValidator is implemented by parameter variants that carry checks
// which only apply when an operation is first accepted, never when stored
// parameters are re-read at execution time.
type CreateValidator interface {
	ValidateAtCreate(now time.Time) error
}

// ParseParamsAtCreate decodes a submission payload and runs both the shape
// checks and the acceptance-time checks.
func ParseParamsAtCreate(opType OperationType, raw []byte, now time.Time) (Params, error) {
	params, err := ParseParams(opType, raw)
	if err != nil {
		return nil, err
	}
	if v, ok := params.(CreateValidator); ok {
		if err := v.ValidateAtCreate(now); err != nil {
			return nil, err
		}
	}
	return params, nil
}

// ParseParams decodes and validates the shape of a raw parameter payload for
// the given operation type. Unknown JSON fields are rejected so typos surface
// as InvalidInput instead of silently ignored configuration.
func ParseParams(opType OperationType, raw []byte) (Params, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var params Params
	switch opType {
	case TypeBulkEmail:
		params = &EmailParams{}
	case TypeBulkStatusUpdate:
		params = &StatusUpdateParams{}
	case TypeBulkInterviewSchedule:
		params = &InterviewScheduleParams{}
	case TypeBulkEnrichment:
		params = &EnrichmentParams{}
	case TypeBulkExport:
		params = &ExportParams{}
	default:
		return nil, fmt.Errorf("%w: invalid operation type %q", ErrValidation, opType)
	}

	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(params); err != nil {
		return nil, fmt.Errorf("%w: unparseable parameters for %s: %v", ErrValidation, opType, err)
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}

	return params, nil
}
