package processor

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/storage"
)

// ExportProcessor fetches one candidate record and writes it as a csv or
// json artifact under the operation's destination prefix. Keys are keyed by
// operation and item id, so a resumed operation overwrites its own partial
// artifacts instead of duplicating them.
type ExportProcessor struct {
	api   *DashboardClient
	store storage.ArtifactStore
}

func NewExportProcessor(api *DashboardClient, store storage.ArtifactStore) (*ExportProcessor, error) {
	if api == nil {
		return nil, fmt.Errorf("dashboard client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}

	return &ExportProcessor{api: api, store: store}, nil
}

func (p *ExportProcessor) Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*Result, error) {
	exportParams, ok := params.(*domain.ExportParams)
	if !ok {
		return nil, fmt.Errorf("export processor received %T parameters", params)
	}

	record, err := p.api.Get(ctx, item.ItemID)
	if err != nil {
		return nil, err
	}

	var artifact []byte
	var contentType string
	switch exportParams.Format {
	case domain.ExportFormatCSV:
		artifact, err = renderCSV(record)
		if err != nil {
			return nil, &ProcessorError{
				Message: fmt.Sprintf("failed to render candidate %s as csv", item.ItemID),
				Cause:   err,
			}
		}
		contentType = "text/csv"
	case domain.ExportFormatJSON:
		artifact = record
		contentType = "application/json"
	default:
		return nil, fmt.Errorf("unsupported export format %q", exportParams.Format)
	}

	key := artifactKey(exportParams.Destination, item.OperationID, item.ItemID, string(exportParams.Format))
	url, err := p.store.Upload(ctx, key, contentType, bytes.NewReader(artifact))
	if err != nil {
		return nil, &ProcessorError{
			Message:   "artifact upload failed",
			Transient: true,
			Cause:     err,
		}
	}

	return &Result{
		StatusCode: http.StatusOK,
		Detail:     url,
	}, nil
}

func artifactKey(destination, operationID, itemID, extension string) string {
	prefix := strings.Trim(strings.TrimSpace(destination), "/")
	if prefix == "" {
		prefix = "exports"
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefix, operationID, itemID, extension)
}

// renderCSV flattens a single-level JSON object into a two-row csv with a
// deterministic column order. Nested values are re-encoded as JSON strings.
func renderCSV(record []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, fmt.Errorf("candidate record is not a JSON object: %w", err)
	}

	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	values := make([]string, 0, len(columns))
	for _, column := range columns {
		switch v := fields[column].(type) {
		case nil:
			values = append(values, "")
		case string:
			values = append(values, v)
		case float64, bool:
			values = append(values, fmt.Sprintf("%v", v))
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			values = append(values, string(encoded))
		}
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return nil, err
	}
	if err := writer.Write(values); err != nil {
		return nil, err
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
