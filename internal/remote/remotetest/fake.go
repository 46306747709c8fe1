// Package remotetest provides an in-memory remote.Client for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/and161185/gofulcrum/internal/remote"
)

// Call records one request made against Fake.
type Call struct {
	Method   string
	Resource string
	ID       string
	Params   url.Values
}

// Fake is an in-memory Client for tests.
type Fake struct {
	mu      sync.Mutex
	objects map[string]map[string]map[string]any
	pages   map[string][]map[string]any
	blobs   map[string]string
	calls   []Call
	nextID  int

	// FailFind makes Find return this error for the listed ids.
	FailFind map[string]error
}

var _ remote.Client = (*Fake)(nil)

// NewFake returns an empty fake.
func NewFake() *Fake {
	return &Fake{
		objects:  map[string]map[string]map[string]any{},
		pages:    map[string][]map[string]any{},
		blobs:    map[string]string{},
		FailFind: map[string]error{},
	}
}

// AddObject registers obj under resource, wrapped as {envelope: obj}.
func (f *Fake) AddObject(resource, envelope string, obj map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprint(obj["id"])
	if ak, ok := obj["access_key"].(string); ok && obj["id"] == nil {
		id = ak
	}
	if f.objects[resource] == nil {
		f.objects[resource] = map[string]map[string]any{}
	}
	f.objects[resource][id] = map[string]any{envelope: obj}
}

// SetPages installs search responses: pages[i] answers wire page i+1, each
// reporting len(pages) as total_pages.
func (f *Fake) SetPages(resource string, pages ...[]map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, len(pages))
	for i, items := range pages {
		list := make([]any, len(items))
		for j := range items {
			list[j] = items[j]
		}
		out[i] = map[string]any{resource: list, "total_pages": float64(len(pages)), "current_page": float64(i + 1)}
	}
	f.pages[resource] = out
}

// AddBlob registers downloadable content at rawURL.
func (f *Fake) AddBlob(rawURL, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[rawURL] = content
}

// Calls returns a copy of the recorded requests.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf filters recorded requests by method ("find", "search", "create", "download").
func (f *Fake) CallsOf(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func notFound(method, u string) error {
	return &remote.StatusError{Method: method, URL: u, Code: http.StatusNotFound, Body: "not found"}
}

// Find returns the registered envelope.
func (f *Fake) Find(_ context.Context, resource, id string) (map[string]any, error) {
	f.record(Call{Method: "find", Resource: resource, ID: id})
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailFind[id]; err != nil {
		return nil, err
	}
	env, ok := f.objects[resource][id]
	if !ok {
		return nil, notFound(http.MethodGet, resource+"/"+id)
	}
	return deepCopy(env), nil
}

// Search returns the installed page for params["page"]; unknown pages are empty.
func (f *Fake) Search(_ context.Context, resource string, params url.Values) (map[string]any, error) {
	cp := url.Values{}
	for k, v := range params {
		cp[k] = append([]string(nil), v...)
	}
	f.record(Call{Method: "search", Resource: resource, Params: cp})
	f.mu.Lock()
	defer f.mu.Unlock()
	pages := f.pages[resource]
	page, _ := strconv.Atoi(params.Get("page"))
	if page < 1 || page > len(pages) {
		return map[string]any{resource: []any{}, "total_pages": float64(len(pages))}, nil
	}
	return deepCopy(pages[page-1]), nil
}

// Create stores the single object of body with a generated id.
func (f *Fake) Create(_ context.Context, resource string, body map[string]any) (map[string]any, error) {
	f.record(Call{Method: "create", Resource: resource})
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("created-%d", f.nextID)
	f.mu.Unlock()
	for envelope, v := range body {
		obj, ok := v.(map[string]any)
		if !ok {
			continue
		}
		obj = deepCopy(obj)
		if obj["id"] == nil {
			obj["id"] = id
		}
		f.AddObject(resource, envelope, obj)
		return map[string]any{envelope: obj}, nil
	}
	return nil, fmt.Errorf("create %s: empty body", resource)
}

// Download serves registered blobs.
func (f *Fake) Download(_ context.Context, rawURL string) (io.ReadCloser, string, error) {
	f.record(Call{Method: "download", ID: rawURL})
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.blobs[rawURL]
	if !ok {
		return nil, "", notFound(http.MethodGet, rawURL)
	}
	return io.NopCloser(strings.NewReader(content)), "", nil
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = deepCopy(t)
		case []any:
			s := make([]any, len(t))
			for i, e := range t {
				if mm, ok := e.(map[string]any); ok {
					s[i] = deepCopy(mm)
				} else {
					s[i] = e
				}
			}
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
