package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

// MediaFieldTypes maps field types whose values reference media to the
// referenced media type.
var MediaFieldTypes = map[string]string{
	"PhotoField":     model.MediaPhoto,
	"VideoField":     model.MediaVideo,
	"AudioField":     model.MediaAudio,
	"SignatureField": model.MediaSignature,
}

func same(names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Remote: n, Local: n}
	}
	return out
}

func (p *Pipeline) defaultStrategies() map[model.Kind]Strategy {
	return map[model.Kind]Strategy{
		model.KindProject: {
			Pre:     unwrap("project"),
			Columns: same("name", "description", "status"),
		},
		model.KindForm: {
			Pre:     unwrap("form"),
			Columns: same("name", "description", "record_count", "status"),
			Post:    p.formPost,
		},
		model.KindField: {
			Pre: p.fieldPre,
			Columns: append(same("form_id", "data_name", "type", "description", "required"),
				Column{Remote: "label", Local: "name"}),
		},
		model.KindRecord: {
			Pre: chain(unwrap("record"), recordPre),
			Columns: same("form_id", "project_id", "point", "altitude", "speed", "course",
				"status", "version", "created_by", "updated_by", "assigned_to"),
			Post: p.recordPost,
		},
		model.KindValue: {
			Columns: same("field_id", "record_id", "value", "type", "metadata"),
			Post:    p.valuePost,
		},
		model.KindMedia: {
			Pre: chain(unwrapAny("photo", "video", "audio", "signature"), mediaPre),
			Columns: same("form_id", "record_id", "media_type", "content_type", "file_size",
				"caption", "created_by", "updated_by", "storage"),
			Post: p.mediaPost,
		},
	}
}

func chain(fns ...func(map[string]any) (map[string]any, error)) func(map[string]any) (map[string]any, error) {
	return func(doc map[string]any) (map[string]any, error) {
		var err error
		for _, fn := range fns {
			if doc, err = fn(doc); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}
}

// unwrap strips a {"name": {...}} envelope when present.
func unwrap(name string) func(map[string]any) (map[string]any, error) {
	return unwrapAny(name)
}

func unwrapAny(names ...string) func(map[string]any) (map[string]any, error) {
	return func(doc map[string]any) (map[string]any, error) {
		if len(doc) != 1 {
			return doc, nil
		}
		for _, n := range names {
			if inner, ok := doc[n].(map[string]any); ok {
				return inner, nil
			}
		}
		return doc, nil
	}
}

func (p *Pipeline) fieldPre(doc map[string]any) (map[string]any, error) {
	if str(doc["id"]) == "" {
		doc["id"] = doc["key"]
	}
	now := p.now().Format(time.RFC3339Nano)
	if str(doc["created_at"]) == "" {
		doc["created_at"] = now
	}
	if str(doc["updated_at"]) == "" {
		doc["updated_at"] = now
	}
	return doc, nil
}

func recordPre(doc map[string]any) (map[string]any, error) {
	lat, okLat := number(doc["latitude"])
	lon, okLon := number(doc["longitude"])
	if okLat && okLon {
		doc["point"] = "POINT(" + strconv.FormatFloat(lon, 'f', -1, 64) + " " + strconv.FormatFloat(lat, 'f', -1, 64) + ")"
	}
	return doc, nil
}

func mediaPre(doc map[string]any) (map[string]any, error) {
	if ak := str(doc["access_key"]); ak != "" {
		doc["id"] = ak
	}
	return doc, nil
}

// formPost upserts one Field per schema element, descending into
// sections and repeatables.
func (p *Pipeline) formPost(ctx context.Context, repo repository.EntityRepository, e *model.Entity, doc map[string]any, o options) error {
	elements, _ := doc["elements"].([]any)
	return p.walkElements(ctx, repo, e, elements, o)
}

func (p *Pipeline) walkElements(ctx context.Context, repo repository.EntityRepository, form *model.Entity, elements []any, o options) error {
	for _, raw := range elements {
		el, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field := make(map[string]any, len(el)+3)
		for k, v := range el {
			if k != "elements" {
				field[k] = v
			}
		}
		field["form_id"] = form.ID
		if !form.CreatedAt.IsZero() {
			field["created_at"] = form.CreatedAt.Format(time.RFC3339Nano)
		}
		if !form.UpdatedAt.IsZero() {
			field["updated_at"] = form.UpdatedAt.Format(time.RFC3339Nano)
		}
		if str(el["key"]) != "" {
			if _, err := p.ingest(ctx, repo, model.KindField, field, o); err != nil {
				return err
			}
		}
		if nested, ok := el["elements"].([]any); ok {
			if err := p.walkElements(ctx, repo, form, nested, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordPost upserts one Value per form value and strips them from the
// stored payload.
func (p *Pipeline) recordPost(ctx context.Context, repo repository.EntityRepository, e *model.Entity, doc map[string]any, o options) error {
	values, _ := doc["form_values"].(map[string]any)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, fieldID := range keys {
		field, err := repo.Get(ctx, model.KindField, fieldID, true)
		if errors.Is(err, errs.ErrNotFound) {
			return &errs.SchemaError{RecordID: e.ID, FieldID: fieldID}
		}
		if err != nil {
			return err
		}
		vdoc := map[string]any{
			"id":        e.ID + "_" + fieldID,
			"record_id": e.ID,
			"field_id":  fieldID,
			"type":      field.Str("type"),
			"raw":       values[fieldID],
			"value":     flatten(values[fieldID]),
		}
		if !e.CreatedAt.IsZero() {
			vdoc["created_at"] = e.CreatedAt.Format(time.RFC3339Nano)
		}
		if !e.UpdatedAt.IsZero() {
			vdoc["updated_at"] = e.UpdatedAt.Format(time.RFC3339Nano)
		}
		if _, err := p.ingest(ctx, repo, model.KindValue, vdoc, o); err != nil {
			return err
		}
		delete(values, fieldID)
	}
	if values != nil && len(values) == 0 {
		delete(doc, "form_values")
	}
	return nil
}

// valuePost resolves media referenced by a media field value and reduces
// the stored payload to its metadata.
func (p *Pipeline) valuePost(ctx context.Context, repo repository.EntityRepository, e *model.Entity, doc map[string]any, _ options) error {
	mediaType, ok := MediaFieldTypes[str(doc["type"])]
	if !ok {
		return nil
	}
	ids := mediaIDs(doc["raw"], mediaType)
	for _, id := range ids {
		if p.media == nil {
			p.log.Debug("no media fetcher, skipping", zap.String("media_type", mediaType), zap.String("id", id))
			continue
		}
		if _, err := p.media.FetchMedia(ctx, repo, mediaType, id); err != nil {
			return fmt.Errorf("value %s: media %s %s: %w", e.ID, mediaType, id, err)
		}
	}
	meta := map[string]any{"media_type": mediaType, "ids": toAny(ids)}
	e.Attrs["metadata"] = meta
	e.Attrs["value"] = strings.Join(ids, ",")
	for k := range doc {
		delete(doc, k)
	}
	doc["metadata"] = meta
	return nil
}

// mediaIDs reads "<type>_id" from a list of objects or a single object.
func mediaIDs(raw any, mediaType string) []string {
	key := mediaType + "_id"
	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	}
	var out []string
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			if id := str(m[key]); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

// flatten renders a form value as a string column.
func flatten(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		return str(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
