package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/service"
)

// Applier is the part of a resource manager an event needs.
type Applier interface {
	Get(ctx context.Context, id string, cached bool) (*model.Entity, error)
	Remove(ctx context.Context, id string) (*model.Entity, error)
}

// Target is one named webhook configuration, ready to apply events.
type Target struct {
	Name    string
	Include ObjectSet
	Exclude ObjectSet
	// Resolve returns the manager for a plural resource name.
	Resolve func(resource string) (Applier, error)
}

// RegistryResolver adapts a manager registry for Target.Resolve.
func RegistryResolver(r *service.Registry) func(string) (Applier, error) {
	return func(name string) (Applier, error) {
		m, err := r.Manager(name)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Lookup finds targets by configuration name. Unknown names yield
// errs.ErrConfigNotFound.
type Lookup interface {
	Target(ctx context.Context, name string) (*Target, error)
}

// Result is the HTTP answer to one delivery.
type Result struct {
	Status  int
	Body    string
	Outcome string
}

// Outcomes recorded in logs and metrics.
const (
	OutcomeOK          = "ok"
	OutcomeWhitelisted = "whitelisted"
	OutcomeBlacklisted = "blacklisted"
	OutcomeIgnored     = "ignored"
	OutcomeError       = "error"
	OutcomeNotFound    = "config_not_found"
	OutcomeBadRequest  = "bad_request"
)

// Dispatcher classifies events, applies filters and runs the managers.
type Dispatcher struct {
	targets Lookup
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(targets Lookup, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{targets: targets, metrics: m, log: log}
}

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// HandleBody decodes a raw delivery body and applies it.
func (d *Dispatcher) HandleBody(ctx context.Context, config string, body []byte) Result {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return d.done(config, Result{Status: http.StatusOK, Body: "empty payload", Outcome: OutcomeIgnored})
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return d.done(config, Result{Status: http.StatusBadRequest, Body: "invalid json payload", Outcome: OutcomeBadRequest})
	}
	if len(raw) == 0 {
		return d.done(config, Result{Status: http.StatusOK, Body: "empty json payload", Outcome: OutcomeIgnored})
	}
	var ev event
	if err := json.Unmarshal(body, &ev); err != nil {
		// "type" or "data" of the wrong JSON type
		ev = event{}
		_ = json.Unmarshal(raw["type"], &ev.Type)
	}
	return d.Apply(ctx, config, ev.Type, objectID(ev.Data), ev.Data)
}

// Apply runs one classified event against the named configuration.
func (d *Dispatcher) Apply(ctx context.Context, config, eventType, id string, data map[string]any) Result {
	resource, action, ok := strings.Cut(eventType, ".")
	if !ok || (resource != "form" && resource != "record") || action == "" {
		return d.done(config, Result{Status: http.StatusOK, Body: fmt.Sprintf("cannot handle %s event type", eventType), Outcome: OutcomeIgnored})
	}
	if id == "" {
		return d.done(config, Result{Status: http.StatusOK, Body: fmt.Sprintf("cannot handle %s event with empty object id", eventType), Outcome: OutcomeIgnored})
	}
	log := d.log.With(zap.String("config", config), zap.String("resource", resource),
		zap.String("action", action), zap.String("id", id))

	target, err := d.targets.Target(ctx, config)
	if errors.Is(err, errs.ErrConfigNotFound) {
		log.Warn("unknown webhook configuration")
		return d.done(config, Result{Status: http.StatusNotFound, Body: fmt.Sprintf("webhook %s configuration not found", config), Outcome: OutcomeNotFound})
	}
	if err != nil {
		log.Error("webhook configuration unusable", zap.Error(err))
		return d.done(config, Result{Status: http.StatusInternalServerError, Body: err.Error(), Outcome: OutcomeError})
	}

	if outcome := target.filter(checkList(resource, id, data)); outcome != "" {
		log.Info("event filtered", zap.String("outcome", outcome))
		return d.done(config, Result{Status: http.StatusOK, Body: outcome, Outcome: outcome})
	}

	if err := apply(ctx, target, resource, action, id); err != nil {
		log.Error("webhook apply failed", zap.Error(err))
		return d.done(config, Result{Status: http.StatusOK, Body: err.Error(), Outcome: OutcomeError})
	}
	log.Info("webhook applied")
	return d.done(config, Result{Status: http.StatusOK, Body: "ok", Outcome: OutcomeOK})
}

func (d *Dispatcher) done(config string, r Result) Result {
	d.metrics.Webhook(config, r.Outcome)
	return r
}

type pair struct{ typ, id string }

// checkList is the event's own object followed by the ancestors it names.
func checkList(resource, id string, data map[string]any) []pair {
	out := []pair{{resource, id}}
	if fid := str(data["form_id"]); fid != "" {
		out = append(out, pair{"form", fid})
	}
	if rid := str(data["record_id"]); rid != "" {
		out = append(out, pair{"record", rid})
	}
	return out
}

// filter returns "whitelisted", "blacklisted" or "" to proceed. An include
// list miss is checked before an exclude list hit for every pair.
func (t *Target) filter(pairs []pair) string {
	for _, p := range pairs {
		if t.Include.Lists(p.typ) && !t.Include.Has(p.typ, p.id) {
			return OutcomeWhitelisted
		}
		if t.Exclude.Has(p.typ, p.id) {
			return OutcomeBlacklisted
		}
	}
	return ""
}

func apply(ctx context.Context, t *Target, resource, action, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	name := resource
	if name != "audio" {
		name += "s"
	}
	m, err := t.Resolve(name)
	if err != nil {
		return err
	}
	if action == "delete" {
		_, err = m.Remove(ctx, id)
		return err
	}
	_, err = m.Get(ctx, id, false)
	return err
}

func objectID(data map[string]any) string {
	return str(data["id"])
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
