package repository

import (
	"context"
	"errors"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
)

// Getter is the lookup half of EntityRepository.
type Getter interface {
	Get(ctx context.Context, kind model.Kind, id string, includeRemoved bool) (*model.Entity, error)
}

// CheckAncestors walks the guarding parents of e (transitively) and returns
// *errs.AncestorRemovedError for the first removed one. Parents missing from
// the cache do not block.
func CheckAncestors(ctx context.Context, g Getter, e *model.Entity) error {
	schema, ok := model.SchemaOf(e.Kind)
	if !ok {
		return nil
	}
	for _, p := range schema.Parents {
		if !p.Guard {
			continue
		}
		pid := e.Str(p.Column)
		if pid == "" {
			continue
		}
		parent, err := g.Get(ctx, p.Kind, pid, true)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if parent.Removed {
			return &errs.AncestorRemovedError{
				Kind: string(e.Kind), ID: e.ID,
				AncestorKind: string(p.Kind), AncestorID: pid,
			}
		}
		if err := CheckAncestors(ctx, g, parent); err != nil {
			var are *errs.AncestorRemovedError
			if errors.As(err, &are) {
				are.Kind, are.ID = string(e.Kind), e.ID
			}
			return err
		}
	}
	return nil
}
