package state

import (
	"time"

	"github.com/fiffu/hubdeck/lib/models"
)

// Merge places newer before older and drops repeated ids, keeping the first
// occurrence. Local annotations of the replaced copy carry over.
func Merge(newer, older models.Items) models.Items {
	previous := make(map[string]*models.Item, len(older))
	for i := range older {
		if _, ok := previous[older[i].ID]; !ok {
			previous[older[i].ID] = &older[i]
		}
	}

	seen := make(map[string]struct{}, len(newer)+len(older))
	out := make(models.Items, 0, len(newer)+len(older))
	for _, it := range newer {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		if prev, ok := previous[it.ID]; ok {
			it.Saved = it.Saved || prev.Saved
			if !it.IsNotification() && !prev.Unread {
				it.Unread = false
			}
		}
		out = append(out, it)
	}
	for _, it := range older {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}

// OldestTimestamp returns the earliest item timestamp, or the zero time for
// an empty slice.
func OldestTimestamp(items models.Items) time.Time {
	var oldest time.Time
	for i, it := range items {
		if i == 0 || it.Timestamp.Before(oldest) {
			oldest = it.Timestamp
		}
	}
	return oldest
}

// CanFetchMore decides whether another page is worth requesting after page
// came back for a request of perPage items.
func CanFetchMore(page models.Items, perPage int, clearedAt *time.Time) bool {
	return CanFetchMoreAfter(len(page), OldestTimestamp(page), perPage, clearedAt)
}

// CanFetchMoreAfter is CanFetchMore for a response of received records whose
// oldest timestamp is oldest, when not every record became an item.
func CanFetchMoreAfter(received int, oldest time.Time, perPage int, clearedAt *time.Time) bool {
	if received == 0 {
		return false
	}
	if clearedAt != nil && !oldest.IsZero() && !clearedAt.Before(oldest) {
		return false
	}
	return received >= perPage
}

// WatermarkReached reports whether every accumulated item is already behind
// the clearedAt watermark, making further pages pointless.
func WatermarkReached(items models.Items, clearedAt *time.Time) bool {
	if clearedAt == nil {
		return false
	}
	if len(items) == 0 {
		return true
	}
	return !clearedAt.Before(OldestTimestamp(items))
}
