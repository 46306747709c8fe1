package remotetest

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFake_SearchPages(t *testing.T) {
	f := NewFake()
	f.SetPages("forms", []map[string]any{{"id": "a"}}, []map[string]any{{"id": "b"}})

	resp, err := f.Search(context.Background(), "forms", url.Values{"page": {"2"}})
	require.NoError(t, err)
	require.Equal(t, float64(2), resp["total_pages"])
	require.Len(t, resp["forms"], 1)

	resp, err = f.Search(context.Background(), "forms", url.Values{"page": {"9"}})
	require.NoError(t, err)
	require.Empty(t, resp["forms"])
	require.Len(t, f.CallsOf("search"), 2)
}
