package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
)

var timeFilters = []struct {
	param  string
	column string
	since  bool
}{
	{"created_since", "created_at", true},
	{"created_before", "created_at", false},
	{"updated_since", "updated_at", true},
	{"updated_before", "updated_at", false},
}

// CachedQuery translates url params into a store query. Unknown params are
// ignored; equality filters are taken from the resource's Filters.
func (m *Manager) CachedQuery(params url.Values) (model.Query, error) {
	var q model.Query
	for _, f := range m.res.Filters {
		if v := strings.TrimSpace(params.Get(f)); v != "" {
			q.Predicates = append(q.Predicates, model.Eq(f, v))
		}
	}
	for _, tf := range timeFilters {
		raw := strings.TrimSpace(params.Get(tf.param))
		if raw == "" {
			continue
		}
		t, err := ParseTime(raw)
		if err != nil {
			return model.Query{}, fmt.Errorf("%w: %s: %v", errs.ErrInvalidParam, tf.param, err)
		}
		if tf.since {
			q.Predicates = append(q.Predicates, model.Since(tf.column, t))
		} else {
			q.Predicates = append(q.Predicates, model.Before(tf.column, t))
		}
	}
	if mt, ok := m.res.Defaults["media_type"]; ok {
		q.Predicates = append(q.Predicates, model.Eq("media_type", fmt.Sprint(mt)))
	}
	return q, nil
}

// ParseTime accepts RFC 3339 timestamps, plain dates and unix seconds.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
