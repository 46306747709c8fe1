// Package ingest turns remote payloads into cached entities.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/blob"
	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

// Downloader opens remote binaries.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (io.ReadCloser, string, error)
}

// MediaFetcher fetches one media object live and ingests it through repo.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, repo repository.EntityRepository, mediaType, id string) (*model.Entity, error)
}

// Column maps a remote payload key onto a projected attribute.
type Column struct {
	Remote string
	Local  string
}

// Strategy is the per-kind part of the pipeline.
type Strategy struct {
	// Pre normalizes the payload before identity resolution.
	Pre func(doc map[string]any) (map[string]any, error)
	// Columns are copied from the normalized payload onto attributes.
	Columns []Column
	// Post runs after the first write; it may create children and edit
	// e.Attrs and doc, which are written again afterwards.
	Post func(ctx context.Context, repo repository.EntityRepository, e *model.Entity, doc map[string]any, o options) error
}

// Option tunes one Ingest call.
type Option func(*options)

type options struct {
	suppressRestore bool
}

// SuppressRestore keeps a previously removed entity removed.
func SuppressRestore() Option { return func(o *options) { o.suppressRestore = true } }

// Pipeline runs the generic upsert algorithm with per-kind strategies.
type Pipeline struct {
	strategies map[model.Kind]Strategy
	blobs      blob.Store
	dl         Downloader
	media      MediaFetcher
	metrics    *metrics.Metrics
	log        *zap.Logger
	now        func() time.Time
}

// New builds a pipeline. blobs and dl may be nil, in which case media
// binaries are not downloaded.
func New(log *zap.Logger, blobs blob.Store, dl Downloader) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		blobs: blobs,
		dl:    dl,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	p.strategies = p.defaultStrategies()
	return p
}

// SetMediaFetcher wires the resolver used for media-reference values.
func (p *Pipeline) SetMediaFetcher(m MediaFetcher) { p.media = m }

// SetMetrics enables ingest counters.
func (p *Pipeline) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// WithClock replaces the time source (tests).
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Ingest writes payload as an entity of kind, including nested children.
// The whole call should run inside one Store.WithinTx unit.
func (p *Pipeline) Ingest(ctx context.Context, repo repository.EntityRepository, kind model.Kind, payload map[string]any, opts ...Option) (*model.Entity, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return p.ingest(ctx, repo, kind, payload, o)
}

func (p *Pipeline) ingest(ctx context.Context, repo repository.EntityRepository, kind model.Kind, payload map[string]any, o options) (*model.Entity, error) {
	strat, ok := p.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("ingest: unknown kind %q", kind)
	}
	doc := model.CloneMap(payload)
	if doc == nil {
		return nil, fmt.Errorf("ingest %s: %w: empty payload", kind, errs.ErrInvalidPayload)
	}
	if strat.Pre != nil {
		var err error
		if doc, err = strat.Pre(doc); err != nil {
			return nil, fmt.Errorf("ingest %s: %w", kind, err)
		}
	}
	id := str(doc["id"])
	if id == "" {
		return nil, fmt.Errorf("ingest %s: %w: missing id", kind, errs.ErrInvalidPayload)
	}

	existing, err := repo.Get(ctx, kind, id, true)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	e := &model.Entity{
		Kind:      kind,
		ID:        id,
		CreatedAt: parseTime(doc["created_at"]),
		UpdatedAt: parseTime(doc["updated_at"]),
		Attrs:     make(map[string]any, len(strat.Columns)),
		Payload:   doc,
	}
	for _, c := range strat.Columns {
		if v, ok := doc[c.Remote]; ok && v != nil {
			e.Attrs[c.Local] = v
		}
	}

	// A new child of a removed ancestor is refused like a restore would be,
	// unless restores are suppressed; then it is written removed.
	var bornRemoved bool
	if existing == nil {
		if err := repository.CheckAncestors(ctx, repo, e); err != nil {
			if !o.suppressRestore || !errors.Is(err, errs.ErrAncestorRemoved) {
				return nil, err
			}
			bornRemoved = true
		}
	}

	saved, err := repo.Upsert(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("ingest %s %s: %w", kind, id, err)
	}

	if existing != nil && existing.Removed && !o.suppressRestore {
		if err := repo.CascadeRestore(ctx, kind, id); err != nil {
			return nil, err
		}
		p.log.Debug("restored entity", zap.String("kind", string(kind)), zap.String("id", id))
	}

	if strat.Post != nil {
		if err := strat.Post(ctx, repo, e, doc, o); err != nil {
			return nil, err
		}
		e.Payload = doc
		if saved, err = repo.Upsert(ctx, e); err != nil {
			return nil, fmt.Errorf("ingest %s %s: %w", kind, id, err)
		}
	}
	if bornRemoved {
		if err := repo.CascadeRemove(ctx, kind, id); err != nil {
			return nil, err
		}
		saved.Removed = true
	}
	p.metrics.Ingested(string(kind))
	return saved, nil
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
