package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/blob"
	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/ingest"
	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/remote"
	"github.com/and161185/gofulcrum/internal/repository"
)

var mediaFilters = []string{"form_id", "record_id"}

// Resources lists every manager in dependency order.
var Resources = []Resource{
	{Name: "projects", Kind: model.KindProject, Envelope: "project"},
	{Name: "forms", Kind: model.KindForm, Envelope: "form", Filters: []string{"status"}},
	{Name: "fields", Kind: model.KindField, Filters: []string{"form_id", "type"}},
	{Name: "records", Kind: model.KindRecord, Envelope: "record", Filters: []string{"form_id", "project_id", "status"}},
	{Name: "values", Kind: model.KindValue, Filters: []string{"record_id", "field_id"}},
	{Name: "photos", Kind: model.KindMedia, Envelope: "photo", Defaults: map[string]any{"media_type": model.MediaPhoto}, Filters: mediaFilters},
	{Name: "videos", Kind: model.KindMedia, Envelope: "video", Defaults: map[string]any{"media_type": model.MediaVideo}, Filters: mediaFilters},
	{Name: "audio", Kind: model.KindMedia, Envelope: "audio", Defaults: map[string]any{"media_type": model.MediaAudio}, Filters: mediaFilters},
	{Name: "signatures", Kind: model.KindMedia, Envelope: "signature", Defaults: map[string]any{"media_type": model.MediaSignature}, Filters: mediaFilters},
}

// Deps are the collaborators shared by the managers of one configuration.
type Deps struct {
	Store   repository.Store
	Remote  remote.Client // nil disables live fetches
	Blobs   blob.Store    // nil skips media downloads
	PerPage int
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Registry resolves managers by name.
type Registry struct {
	managers map[string]*Manager
	byMedia  map[string]*Manager
	store    repository.Store
	pipeline *ingest.Pipeline
}

var _ ingest.MediaFetcher = (*Registry)(nil)

// NewRegistry builds every manager around one pipeline.
func NewRegistry(d Deps) *Registry {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	perPage := d.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	var dl ingest.Downloader
	if d.Remote != nil {
		dl = d.Remote
	}
	p := ingest.New(log.Named("ingest"), d.Blobs, dl)
	p.SetMetrics(d.Metrics)

	r := &Registry{
		managers: make(map[string]*Manager, len(Resources)),
		byMedia:  map[string]*Manager{},
		store:    d.Store,
		pipeline: p,
	}
	for _, res := range Resources {
		m := &Manager{
			res:      res,
			store:    d.Store,
			remote:   d.Remote,
			pipeline: p,
			perPage:  perPage,
			metrics:  d.Metrics,
			log:      log.With(zap.String("resource", res.Name)),
		}
		r.managers[res.Name] = m
		if mt, ok := res.Defaults["media_type"].(string); ok {
			r.byMedia[mt] = m
		}
	}
	p.SetMediaFetcher(r)
	return r
}

// Manager returns the manager called name.
func (r *Registry) Manager(name string) (*Manager, error) {
	m, ok := r.managers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnknownResource, name)
	}
	return m, nil
}

// Names lists the registered manager names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.managers))
	for n := range r.managers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Store returns the backing store.
func (r *Registry) Store() repository.Store { return r.store }

// Projects returns the project manager.
func (r *Registry) Projects() *ProjectManager {
	return &ProjectManager{Manager: r.managers["projects"]}
}

// FetchMedia fetches a referenced media object through repo, so it joins
// the caller's unit of work.
func (r *Registry) FetchMedia(ctx context.Context, repo repository.EntityRepository, mediaType, id string) (*model.Entity, error) {
	m, ok := r.byMedia[mediaType]
	if !ok {
		return nil, fmt.Errorf("%w: media type %s", errs.ErrUnknownResource, mediaType)
	}
	return m.fetch(ctx, repo, id)
}
