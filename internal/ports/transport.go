package ports

import (
	"context"

	"github.com/eleven-am/loom/internal/domain"
)

type TransportPort interface {
	Connect(ctx context.Context) error
	Close() error

	// PushChange submits one pending action and blocks until the server
	// acknowledges or rejects it.
	PushChange(ctx context.Context, action domain.PendingAction) (*PushResult, error)

	FetchWorkflow(ctx context.Context) (domain.Workflow, error)
	RequestRun(ctx context.Context, request domain.RunRequest) (domain.RunState, error)
}

type PushResult struct {
	LockVersion int64
	// Patches carries server-side adjustments to fold into local state,
	// usually empty.
	Patches []domain.Patch
}
