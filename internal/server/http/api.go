package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/service"
)

// Output formats of the list API.
const (
	FormatJSON = "json"
	FormatRaw  = "raw"
)

// maxPerPage bounds a single API page.
const maxPerPage = 1000

// reserved params are consumed by the API and never become filters.
var reserved = map[string]bool{"page": true, "per_page": true, "format": true}

type apiHandler struct {
	registry func(ctx context.Context) (*service.Registry, error)
	perPage  int
	log      *zap.Logger
}

// Page is the list API envelope.
type Page struct {
	Items      []map[string]any `json:"items"`
	Total      int              `json:"total"`
	PerPage    int              `json:"per_page"`
	TotalPages int              `json:"total_pages"`
	Page       int              `json:"page"`
}

func (h *apiHandler) manager(w http.ResponseWriter, r *http.Request) (*service.Manager, bool) {
	name := mux.Vars(r)["resource"]
	reg, err := h.registry(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	m, err := reg.Manager(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "Resource not found: "+name)
		return nil, false
	}
	return m, true
}

// list serves GET /api/{resource}/ from the cache.
func (h *apiHandler) list(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	format, err := parseFormat(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := intParam(q, "page", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perPage, err := intParam(q, "per_page", h.perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	items, total, err := m.CachedPage(r.Context(), filters(q), page, perPage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := Page{
		Items:      make([]map[string]any, 0, len(items)),
		Total:      total,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
		Page:       page,
	}
	for _, e := range items {
		out.Items = append(out.Items, Render(e, format))
	}
	writeJSON(w, http.StatusOK, out)
}

// get serves GET /api/{resource}/{id}/ from the cache.
func (h *apiHandler) get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	format, err := parseFormat(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := m.Get(r.Context(), mux.Vars(r)["id"], true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Render(e, format))
}

func (h *apiHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidParam):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrConfigNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("api", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func parseFormat(q url.Values) (string, error) {
	switch f := strings.ToLower(q.Get("format")); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatRaw:
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", errs.ErrInvalidParam, f)
	}
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || (name == "per_page" && n == 0) {
		return 0, fmt.Errorf("%w: %s=%q", errs.ErrInvalidParam, name, raw)
	}
	return n, nil
}

func filters(q url.Values) url.Values {
	out := url.Values{}
	for k, v := range q {
		if !reserved[k] {
			out[k] = v
		}
	}
	return out
}

// Render returns the stored payload for raw output, otherwise the class,
// id, timestamps and projected columns. Media rows also get their stored
// paths per size.
func Render(e *model.Entity, format string) map[string]any {
	if format == FormatRaw {
		if e.Payload == nil {
			return map[string]any{}
		}
		return e.Payload
	}
	out := make(map[string]any, len(e.Attrs)+5)
	for k, v := range e.Attrs {
		if k == "storage" {
			continue
		}
		out[k] = v
	}
	out["class"] = string(e.Kind)
	out["id"] = e.ID
	out["created_at"] = formatTime(e.CreatedAt)
	out["updated_at"] = formatTime(e.UpdatedAt)
	if storage, ok := e.Attrs["storage"].(map[string]any); ok && len(storage) > 0 {
		paths := make(map[string]any, len(storage))
		for size, v := range storage {
			if entry, ok := v.(map[string]any); ok {
				paths[size] = entry["path"]
			}
		}
		out["paths"] = paths
	}
	return out
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
