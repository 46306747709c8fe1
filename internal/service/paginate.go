package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/errs"
)

// DefaultPerPage is the remote page size when none is configured.
const DefaultPerPage = 20

// paginate walks remote search pages and calls fn per item.
//
// Page indexes are zero based; the remote API numbers pages from 1. With
// page 0 the loop trusts total_pages of the first response only and walks
// until the index reaches it. A positive page issues exactly one request.
// An empty page always stops.
func (m *Manager) paginate(ctx context.Context, page int, params url.Values, fn func(item map[string]any) error) error {
	if page < 0 {
		return fmt.Errorf("%w: negative page %d", errs.ErrInvalidParam, page)
	}
	pinned := page > 0
	total := -1
	for cur := page; ; cur++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = append([]string(nil), v...)
		}
		q.Set("page", strconv.Itoa(cur+1))
		q.Set("per_page", strconv.Itoa(m.perPage))

		resp, err := m.remote.Search(ctx, m.res.Name, q)
		m.metrics.Remote(m.res.Name, "search", err)
		if err != nil {
			return fmt.Errorf("search %s page %d: %w", m.res.Name, cur, err)
		}
		items := pageItems(resp[m.res.Name])
		if len(items) == 0 {
			m.log.Debug("empty page", zap.String("resource", m.res.Name), zap.Int("page", cur))
			return nil
		}
		if total < 0 && !pinned {
			total = toInt(resp["total_pages"])
		}
		for _, it := range items {
			if err := fn(it); err != nil {
				return err
			}
		}
		if pinned || cur+1 >= total {
			return nil
		}
	}
}

func pageItems(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func toInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(t)
		return n
	}
	return 0
}
