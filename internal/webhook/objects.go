// Package webhook applies single-object remote events to the cache.
package webhook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/and161185/gofulcrum/internal/errs"
)

// FilterTypes are the object types a filter may name.
var FilterTypes = map[string]bool{"form": true, "record": true}

// ObjectSet maps an object type to a set of ids.
type ObjectSet map[string]map[string]struct{}

// ParseObjects reads "type1:id1,id2;type2:id3". Entries without a colon are
// ignored; an empty type, an unknown type or an empty id list is an error.
func ParseObjects(s string) (ObjectSet, error) {
	out := ObjectSet{}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		typ, list, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		typ = strings.TrimSpace(typ)
		if typ == "" {
			return nil, fmt.Errorf("%w: %q: empty type", errs.ErrBadFilter, entry)
		}
		if !FilterTypes[typ] {
			return nil, fmt.Errorf("%w: %q: unknown type %s", errs.ErrBadFilter, entry, typ)
		}
		ids := out[typ]
		if ids == nil {
			ids = map[string]struct{}{}
		}
		for _, id := range strings.Split(list, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids[id] = struct{}{}
			}
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: %q: no ids", errs.ErrBadFilter, entry)
		}
		out[typ] = ids
	}
	return out, nil
}

// Lists reports whether the set has an entry for typ.
func (s ObjectSet) Lists(typ string) bool {
	_, ok := s[typ]
	return ok
}

// Has reports whether id is listed under typ.
func (s ObjectSet) Has(typ, id string) bool {
	_, ok := s[typ][id]
	return ok
}

// String renders the set back into the wire grammar, sorted.
func (s ObjectSet) String() string {
	types := make([]string, 0, len(s))
	for t := range s {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		ids := make([]string, 0, len(s[t]))
		for id := range s[t] {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts = append(parts, t+":"+strings.Join(ids, ","))
	}
	return strings.Join(parts, ";")
}
