// Package service exposes per-resource managers over the cache and the remote API.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/ingest"
	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/remote"
	"github.com/and161185/gofulcrum/internal/repository"
)

// Resource describes one manager.
type Resource struct {
	// Name is the registry key and the remote path segment.
	Name string
	Kind model.Kind
	// Envelope is the singular key wrapping single objects; empty for
	// cache-only resources.
	Envelope string
	// Defaults are merged into every live payload.
	Defaults map[string]any
	// Filters are the url params accepted by cached listing.
	Filters []string
}

// Remote reports whether the resource can be fetched live.
func (r Resource) Remote() bool { return r.Envelope != "" }

// Manager is the public surface of one resource type.
type Manager struct {
	res      Resource
	store    repository.Store
	remote   remote.Client
	pipeline *ingest.Pipeline
	perPage  int
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// Resource returns the manager description.
func (m *Manager) Resource() Resource { return m.res }

// Get returns the entity with id. A live get fetches and ingests the full
// object; a cached get reads the store and never returns removed entities.
func (m *Manager) Get(ctx context.Context, id string, cached bool) (*model.Entity, error) {
	if cached {
		e, err := m.store.Get(ctx, m.res.Kind, id, false)
		if err != nil {
			return nil, err
		}
		if !m.owns(e) {
			return nil, errs.ErrNotFound
		}
		return e, nil
	}
	return m.refresh(ctx, id)
}

// refresh fetches id in one unit of work.
func (m *Manager) refresh(ctx context.Context, id string, opts ...ingest.Option) (*model.Entity, error) {
	var out *model.Entity
	err := m.store.WithinTx(ctx, func(repo repository.EntityRepository) error {
		var err error
		out, err = m.fetch(ctx, repo, id, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fetch loads one object from the remote and runs it through the pipeline on repo.
func (m *Manager) fetch(ctx context.Context, repo repository.EntityRepository, id string, opts ...ingest.Option) (*model.Entity, error) {
	if !m.res.Remote() || m.remote == nil {
		return nil, fmt.Errorf("%s: %w", m.res.Name, errs.ErrNoRemote)
	}
	env, err := m.remote.Find(ctx, m.res.Name, id)
	m.metrics.Remote(m.res.Name, "find", err)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", m.res.Name, id, err)
	}
	obj, ok := env[m.res.Envelope].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("fetch %s %s: %w: no %q envelope", m.res.Name, id, errs.ErrInvalidPayload, m.res.Envelope)
	}
	for k, v := range m.res.Defaults {
		obj[k] = v
	}
	m.log.Debug("fetched", zap.String("resource", m.res.Name), zap.String("id", id))
	return m.pipeline.Ingest(ctx, repo, m.res.Kind, obj, opts...)
}

// Remove soft-deletes the cached entity and its children. It returns nil
// and no error when the entity was never cached.
func (m *Manager) Remove(ctx context.Context, id string) (*model.Entity, error) {
	var out *model.Entity
	err := m.store.WithinTx(ctx, func(repo repository.EntityRepository) error {
		e, err := repo.Get(ctx, m.res.Kind, id, false)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !m.owns(e) {
			return nil
		}
		if err := repo.CascadeRemove(ctx, m.res.Kind, id); err != nil {
			return err
		}
		e.Removed = true
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out != nil {
		m.log.Info("removed", zap.String("resource", m.res.Name), zap.String("id", id))
	}
	return out, nil
}

// ListOptions control List.
type ListOptions struct {
	// Cached reads the store instead of the remote.
	Cached bool
	// Page pins a single remote page; 0 walks every page.
	Page int
	// IgnoreExisting skips ids already cached and not removed.
	IgnoreExisting bool
	// Existing, when set, collects the skipped ids.
	Existing *[]string
	// KeepRemoved refreshes removed entities without restoring them.
	KeepRemoved bool
	// Params are remote search params or cached filters.
	Params url.Values
}

// List yields entities one by one. Cached listing is ordered by updated_at;
// live listing follows remote page order and fetches every item in full.
func (m *Manager) List(ctx context.Context, opts ListOptions, yield func(*model.Entity) error) error {
	if opts.Cached {
		q, err := m.CachedQuery(opts.Params)
		if err != nil {
			return err
		}
		items, err := m.store.Query(ctx, m.res.Kind, q)
		if err != nil {
			return err
		}
		for _, e := range items {
			if err := yield(e); err != nil {
				return err
			}
		}
		return nil
	}
	if !m.res.Remote() || m.remote == nil {
		return fmt.Errorf("%s: %w", m.res.Name, errs.ErrNoRemote)
	}
	return m.paginate(ctx, opts.Page, opts.Params, func(item map[string]any) error {
		id := itemID(item)
		if id == "" {
			return fmt.Errorf("list %s: %w: item without id", m.res.Name, errs.ErrInvalidPayload)
		}
		if opts.IgnoreExisting {
			if _, err := m.store.Get(ctx, m.res.Kind, id, false); err == nil {
				if opts.Existing != nil {
					*opts.Existing = append(*opts.Existing, id)
				}
				return nil
			} else if !errors.Is(err, errs.ErrNotFound) {
				return err
			}
		}
		var iopts []ingest.Option
		if opts.KeepRemoved {
			iopts = append(iopts, ingest.SuppressRestore())
		}
		e, err := m.refresh(ctx, id, iopts...)
		if err != nil {
			return err
		}
		return yield(e)
	})
}

// CachedPage returns one zero-based page of cached entities together with
// the number of matching rows.
func (m *Manager) CachedPage(ctx context.Context, params url.Values, page, perPage int) ([]*model.Entity, int, error) {
	if page < 0 || perPage <= 0 || page > math.MaxInt/perPage {
		return nil, 0, fmt.Errorf("%w: page=%d per_page=%d", errs.ErrInvalidParam, page, perPage)
	}
	q, err := m.CachedQuery(params)
	if err != nil {
		return nil, 0, err
	}
	total, err := m.store.Count(ctx, m.res.Kind, q)
	if err != nil {
		return nil, 0, err
	}
	q.Offset, q.Limit = page*perPage, perPage
	items, err := m.store.Query(ctx, m.res.Kind, q)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Collect is List gathering the results.
func (m *Manager) Collect(ctx context.Context, opts ListOptions) ([]*model.Entity, error) {
	var out []*model.Entity
	err := m.List(ctx, opts, func(e *model.Entity) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// owns filters media rows of other media types out of a media manager.
func (m *Manager) owns(e *model.Entity) bool {
	mt, ok := m.res.Defaults["media_type"]
	return !ok || e.Str("media_type") == fmt.Sprint(mt)
}

func itemID(item map[string]any) string {
	if ak, ok := item["access_key"].(string); ok && ak != "" {
		return ak
	}
	switch v := item["id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
