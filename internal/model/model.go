// Package model defines cached entities and their relationships.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind names one cached entity type.
type Kind string

const (
	KindProject Kind = "project"
	KindForm    Kind = "form"
	KindField   Kind = "field"
	KindRecord  Kind = "record"
	KindValue   Kind = "value"
	KindMedia   Kind = "media"
)

// Kinds lists every kind in dependency order (parents first).
var Kinds = []Kind{KindProject, KindForm, KindField, KindRecord, KindValue, KindMedia}

// Media types stored in the media table.
const (
	MediaPhoto     = "photo"
	MediaVideo     = "video"
	MediaAudio     = "audio"
	MediaSignature = "signature"
)

// Parent describes a reference from a child kind to its parent.
type Parent struct {
	Kind   Kind
	Column string
	// Guard marks parents that must not be removed when the child is restored.
	Guard bool
}

// Schema describes how a kind is stored.
type Schema struct {
	Table   string
	Parents []Parent
	// Columns are projected attribute names besides the parent columns.
	Columns []string
}

var schemas = map[Kind]Schema{
	KindProject: {
		Table:   "fulcrum_project",
		Columns: []string{"name", "description", "status"},
	},
	KindForm: {
		Table:   "fulcrum_form",
		Columns: []string{"name", "description", "record_count", "status"},
	},
	KindField: {
		Table:   "fulcrum_field",
		Parents: []Parent{{Kind: KindForm, Column: "form_id", Guard: true}},
		Columns: []string{"name", "data_name", "type", "description", "required"},
	},
	KindRecord: {
		Table: "fulcrum_record",
		Parents: []Parent{
			{Kind: KindForm, Column: "form_id", Guard: true},
			{Kind: KindProject, Column: "project_id"},
		},
		Columns: []string{"point", "altitude", "speed", "course", "status", "version",
			"created_by", "updated_by", "assigned_to"},
	},
	KindValue: {
		Table: "fulcrum_value",
		Parents: []Parent{
			{Kind: KindField, Column: "field_id"},
			{Kind: KindRecord, Column: "record_id", Guard: true},
		},
		Columns: []string{"value", "type", "metadata"},
	},
	KindMedia: {
		Table: "fulcrum_media",
		Parents: []Parent{
			{Kind: KindForm, Column: "form_id"},
			{Kind: KindRecord, Column: "record_id", Guard: true},
		},
		Columns: []string{"media_type", "content_type", "file_size", "caption",
			"created_by", "updated_by", "storage"},
	},
}

// Child is the inverse of Parent: a kind referencing this one through Column.
type Child struct {
	Kind   Kind
	Column string
}

// SchemaOf returns the storage schema for k.
func SchemaOf(k Kind) (Schema, bool) {
	s, ok := schemas[k]
	return s, ok
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := schemas[k]; !ok {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// Children returns the kinds directly owned by k, in dependency order.
func Children(k Kind) []Child {
	var out []Child
	for _, ck := range Kinds {
		for _, p := range schemas[ck].Parents {
			if p.Kind == k {
				out = append(out, Child{Kind: ck, Column: p.Column})
			}
		}
	}
	return out
}

// ParentColumns returns the foreign key column names of k.
func ParentColumns(k Kind) []string {
	ps := schemas[k].Parents
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Column)
	}
	return out
}

// IsParentColumn reports whether col is a foreign key column of k.
func IsParentColumn(k Kind, col string) bool {
	for _, p := range schemas[k].Parents {
		if p.Column == col {
			return true
		}
	}
	return false
}

// Entity is one cached remote object.
type Entity struct {
	Kind      Kind
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	FetchedAt time.Time
	Payload   map[string]any
	Removed   bool
	// Attrs holds projected columns, parent ids included.
	Attrs map[string]any
}

// Str returns attribute key as a string, or "" when absent.
func (e *Entity) Str(key string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	switch v := e.Attrs[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Clone returns a deep enough copy for stores that hand out snapshots.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = CloneMap(e.Payload)
	c.Attrs = CloneMap(e.Attrs)
	return &c
}

// CloneMap copies nested maps and slices of a JSON-like document.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	default:
		return v
	}
}
