package message

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the narrow boundary through which handlers reach
// persistence. The bus never touches storage directly; an implementation
// (event store, document store) is injected by the application.
type Repository interface {
	// Save persists the aggregate's uncommitted changes.
	Save(ctx context.Context, aggregate any) error

	// GetByID loads the aggregate identified by id into the provided value.
	GetByID(ctx context.Context, id uuid.UUID, aggregate any) error
}
