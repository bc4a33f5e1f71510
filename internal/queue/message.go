package queue

import (
	"fmt"
	"strings"

	"github.com/talentflow/bulkops-engine/internal/domain"
)

// OperationMessage is the broker payload that hands one bulk operation to an
// executor. The operation's state lives in the registry; the message only
// carries identity.
type OperationMessage struct {
	OperationID   string               `json:"operationId"`
	CorrelationID string               `json:"correlationId,omitempty"`
	Type          domain.OperationType `json:"type"`
}

func (m OperationMessage) Validate() error {
	if strings.TrimSpace(m.OperationID) == "" {
		return fmt.Errorf("operationId is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid operation type %q", m.Type)
	}
	return nil
}
