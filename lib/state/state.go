// Package state holds the per-subscription fetch state and the pure
// transition function that advances it.
package state

import (
	"time"

	"github.com/fiffu/hubdeck/lib/models"
)

type State struct {
	SubscriptionID string
	LoadState      models.LoadState
	Items          models.Items
	Page           int
	PerPage        int
	CanFetchMore   bool
	LastFetchedAt  time.Time
	ErrorMessage   string

	// Seq is the sequence number of the latest issued request. Responses
	// carrying any other number are stale.
	Seq uint64
	// PendingPage is the page of the latest issued request.
	PendingPage int
	// Version changes whenever Items changes.
	Version uint64
}

// Event is a state transition input. The set is closed.
type Event interface {
	Subscription() string
	isEvent()
}

type FetchRequested struct {
	SubscriptionID string
	Page           int
	PerPage        int
}

type FetchSucceeded struct {
	SubscriptionID string
	Seq            uint64
	Page           int
	Data           models.Items
	CanFetchMore   bool
	FetchedAt      time.Time
	// Oldest is the oldest record timestamp of the response, including
	// records that did not become items. Zero falls back to Data.
	Oldest time.Time
}

type FetchFailed struct {
	SubscriptionID string
	Seq            uint64
	Err            error
	FailedAt       time.Time
}

// ItemsMarked applies local read/save annotations. Nil fields are left alone.
type ItemsMarked struct {
	SubscriptionID string
	IDs            []string
	Unread         *bool
	Saved          *bool
}

func (e FetchRequested) Subscription() string { return e.SubscriptionID }
func (e FetchSucceeded) Subscription() string { return e.SubscriptionID }
func (e FetchFailed) Subscription() string    { return e.SubscriptionID }
func (e ItemsMarked) Subscription() string    { return e.SubscriptionID }

func (FetchRequested) isEvent() {}
func (FetchSucceeded) isEvent() {}
func (FetchFailed) isEvent()    {}
func (ItemsMarked) isEvent()    {}

func New(subscriptionID string) State {
	return State{SubscriptionID: subscriptionID, LoadState: models.LoadStateNotLoaded}
}

// Reduce returns the state that follows s after e. It never mutates s.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case FetchRequested:
		s.Seq++
		s.PendingPage = max(1, e.Page)
		s.PerPage = e.PerPage
		s.LoadState = NextLoadState(s.LoadState, s.PendingPage)

	case FetchSucceeded:
		if e.Seq != s.Seq {
			return s
		}
		if reachesBack(e, s.Items) {
			s.CanFetchMore = e.CanFetchMore
		}
		if len(e.Data) > 0 {
			s.Items = Merge(e.Data, s.Items)
			s.Version++
		}
		s.Page = max(s.Page, e.Page)
		s.LoadState = models.LoadStateLoaded
		s.LastFetchedAt = e.FetchedAt
		s.ErrorMessage = ""

	case FetchFailed:
		if e.Seq != s.Seq {
			return s
		}
		s.LoadState = models.LoadStateError
		s.ErrorMessage = "unknown error"
		if e.Err != nil {
			s.ErrorMessage = e.Err.Error()
		}

	case ItemsMarked:
		if marked := mark(s.Items, e); marked != nil {
			s.Items = marked
			s.Version++
		}
	}
	return s
}

// reachesBack reports whether the response extends to the oldest loaded
// item. Only such a response can tell whether older pages exist; a page 1
// reload that stays within the newest items leaves CanFetchMore alone.
func reachesBack(e FetchSucceeded, loaded models.Items) bool {
	if len(loaded) == 0 {
		return true
	}
	oldest := e.Oldest
	if oldest.IsZero() {
		oldest = OldestTimestamp(e.Data)
	}
	if oldest.IsZero() {
		return true
	}
	return !oldest.After(OldestTimestamp(loaded))
}

// NextLoadState picks the loading flavour for a request of page given the
// previous state.
func NextLoadState(prev models.LoadState, page int) models.LoadState {
	switch {
	case page > 1:
		return models.LoadStateLoadingMore
	case prev == "", prev == models.LoadStateNotLoaded, prev == models.LoadStateLoadingFirst:
		return models.LoadStateLoadingFirst
	default:
		return models.LoadStateLoading
	}
}

// Rehydrate resets transient flags of a state restored from storage. No
// request survives a restart, so a loading state cannot be trusted.
func Rehydrate(s State) State {
	if s.LoadState == "" || s.LoadState.IsLoading() {
		if len(s.Items) > 0 {
			s.LoadState = models.LoadStateLoaded
		} else {
			s.LoadState = models.LoadStateNotLoaded
		}
	}
	s.Seq = 0
	s.PendingPage = 0
	return s
}

func mark(items models.Items, e ItemsMarked) models.Items {
	if len(e.IDs) == 0 || (e.Unread == nil && e.Saved == nil) {
		return nil
	}
	ids := make(map[string]struct{}, len(e.IDs))
	for _, id := range e.IDs {
		ids[id] = struct{}{}
	}

	var changed bool
	out := make(models.Items, len(items))
	copy(out, items)
	for i := range out {
		if _, ok := ids[out[i].ID]; !ok {
			continue
		}
		if e.Unread != nil && out[i].Unread != *e.Unread {
			out[i].Unread = *e.Unread
			changed = true
		}
		if e.Saved != nil && out[i].Saved != *e.Saved {
			out[i].Saved = *e.Saved
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return out
}
