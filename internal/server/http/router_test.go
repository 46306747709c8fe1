package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/metrics"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/remote/remotetest"
	"github.com/and161185/gofulcrum/internal/repository/memory"
	"github.com/and161185/gofulcrum/internal/service"
	"github.com/and161185/gofulcrum/internal/webhook"
)

type lookup map[string]*webhook.Target

func (l lookup) Target(_ context.Context, name string) (*webhook.Target, error) {
	t, ok := l[name]
	if !ok {
		return nil, errs.ErrConfigNotFound
	}
	return t, nil
}

type env struct {
	router http.Handler
	fake   *remotetest.Fake
	store  *memory.EntityRepo
	reg    *service.Registry
}

func newEnv(t *testing.T, mutate func(*Deps)) *env {
	t.Helper()
	fake := remotetest.NewFake()
	store := memory.NewEntityRepo()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := service.NewRegistry(service.Deps{Store: store, Remote: fake, Metrics: m})
	target := &webhook.Target{Name: "main", Resolve: webhook.RegistryResolver(reg)}

	d := Deps{
		Dispatcher: webhook.NewDispatcher(lookup{"main": target}, m, nil),
		Registry:   func(context.Context) (*service.Registry, error) { return reg, nil },
		Health:     store.Ping,
		Gatherer:   promReg,
		Metrics:    m,
		PerPage:    2,
	}
	if mutate != nil {
		mutate(&d)
	}
	return &env{router: NewRouter(d), fake: fake, store: store, reg: reg}
}

func (e *env) do(t *testing.T, method, target, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) seedForms(t *testing.T, ids ...string) {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range ids {
		_, err := e.store.Upsert(context.Background(), &model.Entity{
			Kind: model.KindForm, ID: id,
			CreatedAt: base, UpdatedAt: base.Add(time.Duration(i) * time.Hour),
			Payload: map[string]any{"id": id, "name": "Form " + id},
			Attrs:   map[string]any{"name": "Form " + id, "status": "active"},
		})
		require.NoError(t, err)
	}
}

func TestWebhook_AppliesEvent(t *testing.T) {
	e := newEnv(t, nil)
	e.fake.AddObject("forms", "form", map[string]any{"id": "f1", "name": "Trees"})

	rec := e.do(t, http.MethodPost, "/webhook/main/", `{"type":"form.create","data":{"id":"f1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	got, err := e.store.Get(context.Background(), model.KindForm, "f1", false)
	require.NoError(t, err)
	require.Equal(t, "Trees", got.Str("name"))

	rec = e.do(t, http.MethodPost, "/webhook/main", `{"type":"form.delete","data":{"id":"f1"}}`)
	require.Equal(t, "ok", rec.Body.String())
}

func TestWebhook_StatusMapping(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodPost, "/webhook/nope/", `{"type":"form.create","data":{"id":"1"}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "webhook nope configuration not found", rec.Body.String())

	rec = e.do(t, http.MethodPost, "/webhook/main/", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/webhook/main/", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "empty payload", rec.Body.String())

	rec = e.do(t, http.MethodGet, "/webhook/main/", ``)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_RateLimited(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Limiter = rate.NewLimiter(rate.Limit(0.001), 1) })
	body := `{"type":"bogus.x"}`
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/webhook/main/", body).Code)
	rec := e.do(t, http.MethodPost, "/webhook/main/", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestAPI_ListPages(t *testing.T) {
	e := newEnv(t, nil)
	e.seedForms(t, "f1", "f2", "f3")

	rec := e.do(t, http.MethodGet, "/api/forms/?page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.PerPage)
	require.Equal(t, 2, page.TotalPages)
	require.Equal(t, 1, page.Page)
	require.Len(t, page.Items, 1)
	require.Equal(t, "f3", page.Items[0]["id"])
	require.Equal(t, "form", page.Items[0]["class"])
	require.Equal(t, "Form f3", page.Items[0]["name"])
	require.Equal(t, "2024-01-01T02:00:00Z", page.Items[0]["updated_at"])
}

func TestAPI_RawFormatAndFilters(t *testing.T) {
	e := newEnv(t, nil)
	e.seedForms(t, "f1", "f2")

	rec := e.do(t, http.MethodGet, "/api/forms/?format=raw&per_page=10&status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, map[string]any{"id": "f1", "name": "Form f1"}, page.Items[0])

	rec = e.do(t, http.MethodGet, "/api/forms/?status=archived", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Zero(t, page.Total)
	require.Empty(t, page.Items)
}

func TestAPI_MediaPaths(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.store.Upsert(context.Background(), &model.Entity{
		Kind: model.KindMedia, ID: "p1",
		Attrs: map[string]any{
			"media_type": "photo", "form_id": "f1", "record_id": "r1",
			"storage": map[string]any{"large": map[string]any{"path": "f1/r1/photo_p1_large.jpg"}},
		},
	})
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/photos/p1/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var item map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, map[string]any{"large": "f1/r1/photo_p1_large.jpg"}, item["paths"])
	require.NotContains(t, item, "storage")

	require.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/videos/p1/", "").Code)
}

func TestAPI_Errors(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/api/widgets/", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "Resource not found: widgets")

	for _, q := range []string{"page=-1", "page=x", "per_page=0", "page=9223372036854775807", "format=xml", "updated_since=soon"} {
		rec = e.do(t, http.MethodGet, "/api/forms/?"+q, "")
		require.Equalf(t, http.StatusBadRequest, rec.Code, "query %s", q)
	}

	rec = e.do(t, http.MethodGet, "/api/forms/missing/", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_BearerAuth(t *testing.T) {
	key := []byte("secret")
	e := newEnv(t, func(d *Deps) { d.TokenKey = key })
	e.seedForms(t, "f1")

	require.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/forms/", "").Code)
	require.Equal(t, http.StatusUnauthorized,
		e.do(t, http.MethodGet, "/api/forms/", "", "Authorization", "Bearer garbage").Code)

	other, err := IssueToken([]byte("other"), "svc", time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized,
		e.do(t, http.MethodGet, "/api/forms/", "", "Authorization", "Bearer "+other).Code)

	tok, err := IssueToken(key, "svc", time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK,
		e.do(t, http.MethodGet, "/api/forms/", "", "Authorization", "Bearer "+tok).Code)

	// webhooks are not behind the token
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/webhook/main/", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	e.do(t, http.MethodPost, "/webhook/main/", "")
	rec = e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `gofulcrum_webhook_events_total{config="main",outcome="ignored"} 1`)
	require.Contains(t, rec.Body.String(), "gofulcrum_http_request_duration_seconds")

	down := newEnv(t, func(d *Deps) {
		d.Health = func(context.Context) error { return errors.New("db down") }
	})
	rec = down.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db down")
}

func TestRecoverer(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Health = func(context.Context) error { panic("boom") }
	})
	rec := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
