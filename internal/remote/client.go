// Package remote talks to the Fulcrum REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultBaseURL is the public Fulcrum API root.
const DefaultBaseURL = "https://api.fulcrumapp.com/api/v2"

const maxErrorBody = 512

// Client is the remote resource API. Resource names are URL path segments
// ("forms", "records", "photos", ...).
type Client interface {
	// Find fetches one object; the result is its singular envelope.
	Find(ctx context.Context, resource, id string) (map[string]any, error)
	// Search fetches one page of partial objects.
	Search(ctx context.Context, resource string, params url.Values) (map[string]any, error)
	// Create posts a new object and returns the created envelope.
	Create(ctx context.Context, resource string, body map[string]any) (map[string]any, error)
	// Download opens a binary; the caller closes the reader.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, string, error)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status=%d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: status=%d message=%s", e.Method, e.URL, e.Code, e.Body)
}

// Options configure HTTPClient.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
}

// HTTPClient implements Client over net/http.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient applies defaults to opts.
func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "gofulcrum"
	}
	return &HTTPClient{baseURL: baseURL, token: opts.Token, httpClient: hc, userAgent: ua}
}

func (c *HTTPClient) endpoint(resource, id string) string {
	u := c.baseURL + "/" + url.PathEscape(resource)
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u + ".json"
}

// Find issues GET /{resource}/{id}.json.
func (c *HTTPClient) Find(ctx context.Context, resource, id string) (map[string]any, error) {
	return c.do(ctx, http.MethodGet, c.endpoint(resource, id), nil)
}

// Search issues GET /{resource}.json?params.
func (c *HTTPClient) Search(ctx context.Context, resource string, params url.Values) (map[string]any, error) {
	u := c.endpoint(resource, "")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

// Create issues POST /{resource}.json.
func (c *HTTPClient) Create(ctx context.Context, resource string, body map[string]any) (map[string]any, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, c.endpoint(resource, ""), b)
}

// Download streams rawURL. Media URLs are pre-signed; the token is only sent
// to the API host.
func (c *HTTPClient) Download(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	c.decorate(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, "", &StatusError{Method: http.MethodGet, URL: rawURL, Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(excerpt)), maxErrorBody)}
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *HTTPClient) decorate(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" && c.sameOrigin(req.URL) {
		req.Header.Set("X-ApiToken", c.token)
	}
}

// sameOrigin reports whether u lives under the API root: same scheme and
// host, and a path below the base path on a segment boundary.
func (c *HTTPClient) sameOrigin(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return false
	}
	prefix := strings.TrimRight(base.Path, "/")
	return prefix == "" || u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/")
}

func (c *HTTPClient) do(ctx context.Context, method, u string, body []byte) (map[string]any, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		msg = truncate(msg, maxErrorBody)
		return nil, &StatusError{Method: method, URL: u, Code: resp.StatusCode, Body: msg}
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, u, err)
	}
	return out, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
