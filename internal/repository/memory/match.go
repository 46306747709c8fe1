package memory

import (
	"fmt"
	"time"

	"github.com/and161185/gofulcrum/internal/model"
)

func matchAll(e *model.Entity, preds []model.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := match(e, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(e *model.Entity, p model.Predicate) (bool, error) {
	switch p.Column {
	case "created_at":
		return compareTime(e.CreatedAt, p)
	case "updated_at":
		return compareTime(e.UpdatedAt, p)
	case "fetched_at":
		return compareTime(e.FetchedAt, p)
	case "id":
		if p.Op != model.OpEq {
			return false, fmt.Errorf("unsupported op %q on id", p.Op)
		}
		return e.ID == fmt.Sprint(p.Value), nil
	}
	if p.Op != model.OpEq {
		return false, fmt.Errorf("unsupported op %q on %s", p.Op, p.Column)
	}
	v, ok := e.Attrs[p.Column]
	if !ok || v == nil {
		return p.Value == nil || fmt.Sprint(p.Value) == "", nil
	}
	return fmt.Sprint(v) == fmt.Sprint(p.Value), nil
}

func compareTime(t time.Time, p model.Predicate) (bool, error) {
	bound, ok := p.Value.(time.Time)
	if !ok {
		return false, fmt.Errorf("predicate on %s needs a time value", p.Column)
	}
	switch p.Op {
	case model.OpGte:
		return !t.Before(bound), nil
	case model.OpLt:
		return t.Before(bound), nil
	case model.OpEq:
		return t.Equal(bound), nil
	}
	return false, fmt.Errorf("unsupported op %q", p.Op)
}
