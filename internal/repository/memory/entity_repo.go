// Package memory contains an in-process implementation of the entity store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

// EntityRepo keeps entities in maps guarded by a mutex. Transactions are
// serialized and roll back by restoring a snapshot.
type EntityRepo struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	rows map[model.Kind]map[string]*model.Entity
	now  func() time.Time
}

var _ repository.Store = (*EntityRepo)(nil)

// NewEntityRepo constructs an empty store.
func NewEntityRepo() *EntityRepo {
	return &EntityRepo{
		rows: make(map[model.Kind]map[string]*model.Entity),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source (tests).
func (r *EntityRepo) WithClock(now func() time.Time) *EntityRepo {
	r.now = now
	return r
}

// Get returns a copy of the stored entity.
func (r *EntityRepo) Get(_ context.Context, kind model.Kind, id string, includeRemoved bool) (*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rows[kind][id]
	if !ok || (e.Removed && !includeRemoved) {
		return nil, errs.ErrNotFound
	}
	return e.Clone(), nil
}

// Upsert inserts or replaces the mutable part of an entity.
func (r *EntityRepo) Upsert(_ context.Context, e *model.Entity) (*model.Entity, error) {
	if e == nil || e.ID == "" {
		return nil, fmt.Errorf("upsert: %w: empty id", errs.ErrInvalidPayload)
	}
	if _, ok := model.SchemaOf(e.Kind); !ok {
		return nil, fmt.Errorf("upsert: unknown kind %q", e.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	table := r.rows[e.Kind]
	if table == nil {
		table = make(map[string]*model.Entity)
		r.rows[e.Kind] = table
	}
	stored := e.Clone()
	stored.FetchedAt = now
	if cur, ok := table[e.ID]; ok {
		stored.Removed = cur.Removed
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = cur.CreatedAt
		}
	} else {
		stored.Removed = false
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	table[e.ID] = stored
	return stored.Clone(), nil
}

// Query filters, orders and pages entities of one kind.
func (r *EntityRepo) Query(_ context.Context, kind model.Kind, q model.Query) ([]*model.Entity, error) {
	matched, err := r.match(kind, q)
	if err != nil {
		return nil, err
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []*model.Entity{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]*model.Entity, len(matched))
	for i, e := range matched {
		out[i] = e.Clone()
	}
	return out, nil
}

// Count returns the number of matching entities ignoring paging.
func (r *EntityRepo) Count(_ context.Context, kind model.Kind, q model.Query) (int, error) {
	matched, err := r.match(kind, q)
	return len(matched), err
}

func (r *EntityRepo) match(kind model.Kind, q model.Query) ([]*model.Entity, error) {
	if _, ok := model.SchemaOf(kind); !ok {
		return nil, fmt.Errorf("query: unknown kind %q", kind)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.Entity
	for _, e := range r.rows[kind] {
		if e.Removed && !q.IncludeRemoved {
			continue
		}
		ok, err := matchAll(e, q.Predicates)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CascadeRemove marks the entity and every transitive child removed.
func (r *EntityRepo) CascadeRemove(_ context.Context, kind model.Kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[kind][id]; !ok {
		return errs.ErrNotFound
	}
	r.setRemoved(kind, []string{id}, true)
	return nil
}

// CascadeRestore verifies guarding ancestors, then clears removed on the
// entity and every transitive child.
func (r *EntityRepo) CascadeRestore(ctx context.Context, kind model.Kind, id string) error {
	e, err := r.Get(ctx, kind, id, true)
	if err != nil {
		return err
	}
	if err := repository.CheckAncestors(ctx, r, e); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setRemoved(kind, []string{id}, false)
	return nil
}

// setRemoved flips the flag on ids and walks the child relations. Caller holds mu.
func (r *EntityRepo) setRemoved(kind model.Kind, ids []string, removed bool) {
	if len(ids) == 0 {
		return
	}
	now := r.now()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
		if e, ok := r.rows[kind][id]; ok {
			e.Removed = removed
			e.UpdatedAt = now
		}
	}
	for _, child := range model.Children(kind) {
		var childIDs []string
		for cid, ce := range r.rows[child.Kind] {
			if _, ok := set[ce.Str(child.Column)]; ok {
				childIDs = append(childIDs, cid)
			}
		}
		sort.Strings(childIDs)
		r.setRemoved(child.Kind, childIDs, removed)
	}
}

// WithinTx serializes fn with other transactions and restores the previous
// state when fn fails.
func (r *EntityRepo) WithinTx(_ context.Context, fn func(repo repository.EntityRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snap := r.snapshot()
	if err := fn(r); err != nil {
		r.mu.Lock()
		r.rows = snap
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *EntityRepo) snapshot() map[model.Kind]map[string]*model.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.Kind]map[string]*model.Entity, len(r.rows))
	for k, table := range r.rows {
		t := make(map[string]*model.Entity, len(table))
		for id, e := range table {
			t[id] = e.Clone()
		}
		out[k] = t
	}
	return out
}

// Ping always succeeds.
func (r *EntityRepo) Ping(context.Context) error { return nil }

// Close is a no-op.
func (r *EntityRepo) Close() {}
