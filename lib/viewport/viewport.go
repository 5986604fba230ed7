// Package viewport tracks what a client shows of each column: the visible
// item indexes and the keyboard selection.
package viewport

import (
	"sync"
	"time"

	"github.com/fiffu/hubdeck/lib/models"
)

type Direction string

const (
	Next     Direction = "next"
	Previous Direction = "previous"
)

func (d Direction) Valid() bool {
	return d == Next || d == Previous
}

type columnView struct {
	visible    []int
	selectedID string
}

type Tracker struct {
	mu      sync.Mutex
	columns map[string]*columnView
}

func NewTracker() *Tracker {
	return &Tracker{columns: make(map[string]*columnView)}
}

func (t *Tracker) view(columnID string) *columnView {
	v, ok := t.columns[columnID]
	if !ok {
		v = &columnView{}
		t.columns[columnID] = v
	}
	return v
}

// SetVisible records the indexes the client reports as fully visible.
func (t *Tracker) SetVisible(columnID string, indexes []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view(columnID).visible = append([]int(nil), indexes...)
}

func (t *Tracker) Visible(columnID string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.columns[columnID]; ok {
		return append([]int(nil), v.visible...)
	}
	return nil
}

// Select moves the selection one step in dir and returns the index to scroll
// to. Without a selection still present in items, the first visible item (or
// the first item) becomes selected instead.
func (t *Tracker) Select(columnID string, items models.Items, dir Direction) (int, models.Item, bool) {
	if len(items) == 0 {
		return 0, models.Item{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.view(columnID)

	idx := indexOf(items, v.selectedID)
	switch {
	case idx < 0:
		idx = 0
		if len(v.visible) > 0 {
			idx = clamp(v.visible[0], len(items))
		}
	case dir == Next:
		idx = clamp(idx+1, len(items))
	case dir == Previous:
		idx = clamp(idx-1, len(items))
	}

	v.selectedID = items[idx].ID
	return idx, items[idx], true
}

// Selected returns the current selection if it is still among items.
func (t *Tracker) Selected(columnID string, items models.Items) (int, models.Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.columns[columnID]
	if !ok {
		return 0, models.Item{}, false
	}
	idx := indexOf(items, v.selectedID)
	if idx < 0 {
		return 0, models.Item{}, false
	}
	return idx, items[idx], true
}

func (t *Tracker) Forget(columnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.columns, columnID)
}

func indexOf(items models.Items, id string) int {
	if id == "" {
		return -1
	}
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func clamp(i, n int) int {
	return max(0, min(i, n-1))
}

// ScrollFailure describes a scroll-to-index request the client could not
// satisfy because the target row was not measured yet.
type ScrollFailure struct {
	Index                     int     `json:"index"`
	HighestMeasuredFrameIndex int     `json:"highestMeasuredFrameIndex"`
	AverageItemLength         float64 `json:"averageItemLength"`
}

func (f ScrollFailure) Report(columnID string) *models.ErrorReport {
	return &models.ErrorReport{
		Name:    "ScrollToIndexFailed",
		Message: "Failed to scroll to index",
		Context: map[string]any{
			"columnId":                  columnID,
			"index":                     f.Index,
			"highestMeasuredFrameIndex": f.HighestMeasuredFrameIndex,
			"averageItemLength":         f.AverageItemLength,
		},
		OccurredAt: time.Now().UTC(),
	}
}
