// Package filter projects accumulated subscription items through column
// filters into the list a client renders.
package filter

import (
	"sort"
	"strconv"
	"strings"

	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/state"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Apply keeps the items passing the type and owner allow-lists, the unread
// predicate and the clearedAt watermark, in that order, newest first.
func Apply(items models.Items, filters models.Filters) models.Items {
	out := make(models.Items, 0, len(items))
	for _, it := range items {
		if len(filters.Types) > 0 && !containsExact(filters.Types, it.Type) {
			continue
		}
		if len(filters.Owners) > 0 && !containsFold(filters.Owners, it.Owner) {
			continue
		}
		if filters.Unread != nil && it.Unread != *filters.Unread {
			continue
		}
		if filters.ClearedAt != nil && !it.Timestamp.After(*filters.ClearedAt) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func containsExact(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

type Source interface {
	Get(subscriptionID string) (state.State, bool)
}

// Selector memoizes column projections. A projection is recomputed only when
// the subscription list, any subscription's version, or the filters change;
// otherwise the identical slice is returned.
type Selector struct {
	cache *lru.Cache[string, models.Items]
}

func NewSelector(size int) (*Selector, error) {
	cache, err := lru.New[string, models.Items](size)
	if err != nil {
		return nil, err
	}
	return &Selector{cache}, nil
}

// Combined returns the union of the subscriptions' items, deduplicated by id
// with earlier subscriptions taking precedence.
func (sel *Selector) Combined(src Source, subscriptionIDs []string) models.Items {
	states := make([]state.State, 0, len(subscriptionIDs))
	for _, id := range subscriptionIDs {
		if s, ok := src.Get(id); ok {
			states = append(states, s)
		}
	}
	return combine(states)
}

func (sel *Selector) Select(src Source, subscriptionIDs []string, filters models.Filters) models.Items {
	states := make([]state.State, 0, len(subscriptionIDs))
	var key strings.Builder
	for _, id := range subscriptionIDs {
		s, ok := src.Get(id)
		if !ok {
			continue
		}
		states = append(states, s)
		key.WriteString(id)
		key.WriteByte('@')
		key.WriteString(strconv.FormatUint(s.Version, 10))
		key.WriteByte(',')
	}
	key.WriteByte('|')
	key.WriteString(models.DigestJSON(filters))

	k := key.String()
	if items, ok := sel.cache.Get(k); ok {
		return items
	}
	items := Apply(combine(states), filters)
	sel.cache.Add(k, items)
	return items
}

func combine(states []state.State) models.Items {
	if len(states) == 1 {
		return states[0].Items
	}
	var out models.Items
	seen := make(map[string]struct{})
	for _, s := range states {
		for _, it := range s.Items {
			if _, ok := seen[it.ID]; ok {
				continue
			}
			seen[it.ID] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}
