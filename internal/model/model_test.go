package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChildren(t *testing.T) {
	require.Equal(t, []Child{
		{Kind: KindField, Column: "form_id"},
		{Kind: KindRecord, Column: "form_id"},
		{Kind: KindMedia, Column: "form_id"},
	}, Children(KindForm))
	require.Equal(t, []Child{{Kind: KindRecord, Column: "project_id"}}, Children(KindProject))
	require.Empty(t, Children(KindValue))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Record ")
	require.NoError(t, err)
	require.Equal(t, KindRecord, k)

	_, err = ParseKind("photo")
	require.Error(t, err)
}

func TestEntityCloneIsDeep(t *testing.T) {
	e := &Entity{
		Kind:    KindRecord,
		ID:      "r1",
		Payload: map[string]any{"form_values": map[string]any{"a": []any{"x"}}},
		Attrs:   map[string]any{"form_id": "f1"},
	}
	c := e.Clone()
	c.Payload["form_values"].(map[string]any)["a"].([]any)[0] = "y"
	c.Attrs["form_id"] = "f2"

	require.Equal(t, "x", e.Payload["form_values"].(map[string]any)["a"].([]any)[0])
	require.Equal(t, "f1", e.Str("form_id"))
}

func TestEntityStr(t *testing.T) {
	e := &Entity{Attrs: map[string]any{"n": 3, "s": "v"}}
	require.Equal(t, "3", e.Str("n"))
	require.Equal(t, "v", e.Str("s"))
	require.Equal(t, "", e.Str("missing"))

	var nilEntity *Entity
	require.Equal(t, "", nilEntity.Str("s"))
}

func TestParentColumns(t *testing.T) {
	require.Equal(t, []string{"field_id", "record_id"}, ParentColumns(KindValue))
	require.True(t, IsParentColumn(KindMedia, "record_id"))
	require.False(t, IsParentColumn(KindMedia, "media_type"))
}
