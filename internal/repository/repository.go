// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/gofulcrum/internal/model"
)

// EntityRepository is keyed, soft-delete aware storage of cached entities.
type EntityRepository interface {
	// Get loads one entity; removed rows are returned only when includeRemoved is set.
	// Missing rows yield errs.ErrNotFound.
	Get(ctx context.Context, kind model.Kind, id string, includeRemoved bool) (*model.Entity, error)

	// Upsert creates the entity or updates its timestamps, payload and attributes.
	// The removed flag is left untouched; use CascadeRemove/CascadeRestore for it.
	Upsert(ctx context.Context, e *model.Entity) (*model.Entity, error)

	// Query lists entities matching every predicate, ordered by updated_at.
	Query(ctx context.Context, kind model.Kind, q model.Query) ([]*model.Entity, error)

	// Count returns the number of rows Query would return without paging.
	Count(ctx context.Context, kind model.Kind, q model.Query) (int, error)

	// CascadeRemove marks the entity and all of its transitive children removed.
	CascadeRemove(ctx context.Context, kind model.Kind, id string) error

	// CascadeRestore clears the removed flag on the entity and its children.
	// It fails with *errs.AncestorRemovedError, changing nothing, when a
	// guarding ancestor is removed.
	CascadeRestore(ctx context.Context, kind model.Kind, id string) error
}

// Store is an EntityRepository that can scope work into one unit.
type Store interface {
	EntityRepository

	// WithinTx runs fn against a transactional view; fn's error rolls back
	// everything it wrote.
	WithinTx(ctx context.Context, fn func(repo EntityRepository) error) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close()
}
