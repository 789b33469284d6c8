// Package database defines the instance store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/GowaManager/internal/domain/instance"
)

// Store is the port interface for instance persistence. Implementations
// serialize writes and map uniqueness violations to domain.ErrConflict.
type Store interface {
	// ListInstances returns all instances ordered newest first.
	ListInstances(ctx context.Context) ([]instance.Instance, error)
	GetInstance(ctx context.Context, id int64) (*instance.Instance, error)
	GetInstanceByKey(ctx context.Context, key string) (*instance.Instance, error)

	// CreateInstance persists a new row and fills ID and timestamps.
	CreateInstance(ctx context.Context, inst *instance.Instance) error
	// UpdateInstance rewrites name, config and gowa_version.
	UpdateInstance(ctx context.Context, inst *instance.Instance) error
	DeleteInstance(ctx context.Context, id int64) error

	// UpdateStatus writes status and error_message together so the
	// "error_message non-null iff status=error" invariant holds.
	UpdateStatus(ctx context.Context, id int64, status instance.Status, errMsg *string) error
	UpdatePort(ctx context.Context, id int64, port int) error

	// ListByStatus returns instances in the given persisted state.
	ListByStatus(ctx context.Context, status instance.Status) ([]instance.Instance, error)
	// AllocatedPorts returns every non-null persisted port.
	AllocatedPorts(ctx context.Context) ([]int, error)

	Close() error
}
