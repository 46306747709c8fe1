package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Find(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-ApiToken")
		_, _ = w.Write([]byte(`{"form":{"id":"f1","name":"Trees"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL + "/api/v2/", Token: "secret"})
	env, err := c.Find(context.Background(), "forms", "f1")
	require.NoError(t, err)
	require.Equal(t, "/api/v2/forms/f1.json", gotPath)
	require.Equal(t, "secret", gotToken)
	require.Equal(t, "Trees", env["form"].(map[string]any)["name"])
}

func TestHTTPClient_SearchEncodesParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/records.json", r.URL.Path)
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"records":[],"total_pages":0}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL})
	_, err := c.Search(context.Background(), "records", url.Values{"form_id": {"f1"}, "page": {"2"}})
	require.NoError(t, err)
	require.Equal(t, "f1", gotQuery.Get("form_id"))
	require.Equal(t, "2", gotQuery.Get("page"))
}

func TestHTTPClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(Options{BaseURL: srv.URL})
	_, err := c.Find(context.Background(), "forms", "f1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.Code)
	require.Equal(t, "nope", se.Body)
}

func TestHTTPClient_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"form":`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Options{BaseURL: srv.URL}).Find(context.Background(), "forms", "f1")
	require.ErrorContains(t, err, "decode response")
}

func TestHTTPClient_CreatePostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		require.JSONEq(t, `{"project":{"name":"p"}}`, string(b))
		_, _ = w.Write([]byte(`{"project":{"id":"p1","name":"p"}}`))
	}))
	defer srv.Close()

	env, err := NewHTTPClient(Options{BaseURL: srv.URL}).Create(context.Background(), "projects",
		map[string]any{"project": map[string]any{"name": "p"}})
	require.NoError(t, err)
	require.Equal(t, "p1", env["project"].(map[string]any)["id"])
}

func TestHTTPClient_DownloadSkipsTokenForForeignHosts(t *testing.T) {
	var gotToken string
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-ApiToken")
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer media.Close()

	c := NewHTTPClient(Options{BaseURL: "https://api.example.com/api/v2", Token: "secret"})
	rc, ct, err := c.Download(context.Background(), media.URL+"/p.jpg")
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	require.Equal(t, "jpeg", string(b))
	require.Equal(t, "image/jpeg", ct)
	require.Empty(t, gotToken)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTPClient_DownloadTokenOnlyForAPIOrigin(t *testing.T) {
	var gotToken string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotToken = r.Header.Get("X-ApiToken")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"image/jpeg"}},
			Body:       io.NopCloser(strings.NewReader("jpeg")),
			Request:    r,
		}, nil
	})}

	cases := []struct {
		base, target string
		want         string
	}{
		{"https://api.fulcrumapp.com", "https://api.fulcrumapp.com.attacker.net/x.jpg", ""},
		{"https://api.fulcrumapp.com", "http://api.fulcrumapp.com/x.jpg", ""},
		{"https://api.fulcrumapp.com/api/v2", "https://api.fulcrumapp.com/api/v2evil/x.jpg", ""},
		{"https://api.fulcrumapp.com/api/v2", "https://api.fulcrumapp.com/api/v2/photos/p1.jpg", "secret"},
		{"https://api.fulcrumapp.com", "https://API.fulcrumapp.com/x.jpg", "secret"},
	}
	for _, tc := range cases {
		gotToken = ""
		c := NewHTTPClient(Options{BaseURL: tc.base, Token: "secret", HTTPClient: hc})
		rc, _, err := c.Download(context.Background(), tc.target)
		require.NoError(t, err, tc.target)
		_ = rc.Close()
		require.Equal(t, tc.want, gotToken, tc.target)
	}
}

func TestHTTPClient_StatusErrorKeepsRunes(t *testing.T) {
	body := strings.Repeat("a", maxErrorBody-1) + "é"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Options{BaseURL: srv.URL}).Find(context.Background(), "forms", "f1")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.True(t, utf8.ValidString(se.Body))
	require.Equal(t, strings.Repeat("a", maxErrorBody-1), se.Body)
}
