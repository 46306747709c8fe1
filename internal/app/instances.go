package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/blob"
	"github.com/and161185/gofulcrum/internal/config"
	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/remote"
	"github.com/and161185/gofulcrum/internal/repository"
	"github.com/and161185/gofulcrum/internal/service"
	"github.com/and161185/gofulcrum/internal/store"
	"github.com/and161185/gofulcrum/internal/webhook"
)

// Instance is one opened webhook configuration.
type Instance struct {
	Config   *config.Webhook
	Store    repository.Store
	Registry *service.Registry
	Target   *webhook.Target
}

// Open connects the store, remote client and blob store of wh.
func Open(ctx context.Context, wh *config.Webhook, m *metrics.Metrics, log *zap.Logger) (*Instance, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("config", wh.Name))

	st, err := store.Open(ctx, wh.DatabaseDSN, log)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: %w", wh.Name, err)
	}
	blobs, err := newBlobStore(ctx, wh.Storage)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("webhook %s: %w", wh.Name, err)
	}
	var rc remote.Client
	if wh.APIKey != "" {
		rc = remote.NewHTTPClient(remote.Options{BaseURL: wh.APIURL, Token: wh.APIKey})
	}
	return NewInstance(wh, st, rc, blobs, m, log), nil
}

// NewInstance assembles an instance from already opened parts.
func NewInstance(wh *config.Webhook, st repository.Store, rc remote.Client, blobs blob.Store, m *metrics.Metrics, log *zap.Logger) *Instance {
	reg := service.NewRegistry(service.Deps{
		Store:   st,
		Remote:  rc,
		Blobs:   blobs,
		PerPage: wh.PerPage,
		Metrics: m,
		Logger:  log,
	})
	return &Instance{
		Config:   wh,
		Store:    st,
		Registry: reg,
		Target: &webhook.Target{
			Name:    wh.Name,
			Include: wh.Include,
			Exclude: wh.Exclude,
			Resolve: webhook.RegistryResolver(reg),
		},
	}
}

func newBlobStore(ctx context.Context, st config.Storage) (blob.Store, error) {
	switch {
	case st.S3.Bucket != "":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    st.S3.Bucket,
			Region:    st.S3.Region,
			Endpoint:  st.S3.Endpoint,
			AccessKey: st.S3.AccessKey,
			SecretKey: st.S3.SecretKey,
			Prefix:    st.S3.Prefix,
			URLBase:   st.URLBase,
		})
	case st.Root != "":
		return blob.NewFSStore(st.Root, st.URLBase)
	default:
		return nil, nil
	}
}

// Instances opens configurations on first use and keeps them for the
// lifetime of the process.
type Instances struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	log     *zap.Logger
	open    func(ctx context.Context, wh *config.Webhook) (*Instance, error)

	mu     sync.Mutex
	opened map[string]*Instance
}

var _ webhook.Lookup = (*Instances)(nil)

// NewInstances wraps cfg.
func NewInstances(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *Instances {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Instances{cfg: cfg, metrics: m, log: log, opened: map[string]*Instance{}}
	s.open = func(ctx context.Context, wh *config.Webhook) (*Instance, error) {
		return Open(ctx, wh, s.metrics, s.log)
	}
	return s
}

// Get returns the named instance, opening it if needed. Unknown names
// yield errs.ErrConfigNotFound.
func (s *Instances) Get(ctx context.Context, name string) (*Instance, error) {
	wh, err := s.cfg.Webhook(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.opened[wh.Name]; ok {
		return in, nil
	}
	in, err := s.open(ctx, wh)
	if err != nil {
		return nil, err
	}
	s.opened[wh.Name] = in
	s.log.Info("configuration opened", zap.String("config", wh.Name))
	return in, nil
}

// Target implements webhook.Lookup.
func (s *Instances) Target(ctx context.Context, name string) (*webhook.Target, error) {
	in, err := s.Get(ctx, strings.ToLower(name))
	if err != nil {
		return nil, err
	}
	return in.Target, nil
}

// OpenAll opens every configured instance.
func (s *Instances) OpenAll(ctx context.Context) error {
	for _, name := range s.cfg.WebhookNames() {
		if _, err := s.Get(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Check pings every opened store.
func (s *Instances) Check(ctx context.Context) error {
	s.mu.Lock()
	opened := make(map[string]*Instance, len(s.opened))
	for k, v := range s.opened {
		opened[k] = v
	}
	s.mu.Unlock()

	var all []error
	for name, in := range opened {
		if err := in.Store.Ping(ctx); err != nil {
			all = append(all, fmt.Errorf("webhook %s: %w", name, err))
		}
	}
	return errors.Join(all...)
}

// Close releases every opened store.
func (s *Instances) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, in := range s.opened {
		in.Store.Close()
		delete(s.opened, name)
	}
}

// Registry returns the managers of the named configuration.
func (s *Instances) Registry(ctx context.Context, name string) (*service.Registry, error) {
	in, err := s.Get(ctx, name)
	if err != nil {
		if errors.Is(err, errs.ErrConfigNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return in.Registry, nil
}
