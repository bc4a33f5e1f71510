package processor

import (
	"context"
	"fmt"

	"github.com/talentflow/bulkops-engine/internal/domain"
)

// Processor performs the type-specific side effect for one operation item.
// Implementations must be safe for concurrent use: the executor may process
// items of the same operation in parallel.
type Processor interface {
	Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*Result, error)
}

// Result stores call metadata from a successful item side effect.
type Result struct {
	StatusCode int
	Detail     string
}

// Registry resolves the processor for an operation type. A missing
// registration is an operation-level fault: no item of that operation can
// be attempted.
type Registry struct {
	processors map[domain.OperationType]Processor
}

func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[domain.OperationType]Processor),
	}
}

func (r *Registry) Register(opType domain.OperationType, p Processor) error {
	if !opType.IsValid() {
		return fmt.Errorf("invalid operation type %q", opType)
	}
	if p == nil {
		return fmt.Errorf("processor for %s is nil", opType)
	}
	r.processors[opType] = p
	return nil
}

func (r *Registry) Resolve(opType domain.OperationType) (Processor, error) {
	if r == nil {
		return nil, fmt.Errorf("processor registry is not initialized")
	}
	p, ok := r.processors[opType]
	if !ok {
		return nil, fmt.Errorf("no processor registered for operation type %s", opType)
	}
	return p, nil
}
