package app

import (
	"encoding/json"
	"time"

	"github.com/fiffu/hubdeck/lib"
	"github.com/fiffu/hubdeck/lib/models"
)

type ColumnView struct {
	ID              string                `json:"id"`
	Type            models.ColumnType     `json:"type"`
	SubscriptionIDs []string              `json:"subscription_ids"`
	Filters         models.Filters        `json:"filters"`
	Options         models.DisplayOptions `json:"options"`
	CreatedAt       *string               `json:"created_at"`
}

func (view ColumnView) From(entity models.Column) ColumnView {
	ids := entity.SubscriptionIDs
	if ids == nil {
		ids = []string{}
	}
	return ColumnView{
		ID:              entity.ID,
		Type:            entity.Type,
		SubscriptionIDs: ids,
		Filters:         entity.Filters,
		Options:         entity.Options,
		CreatedAt:       isoformat(entity.CreatedAt),
	}
}

type ItemView struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	Kind           string          `json:"kind"`
	Type           string          `json:"type"`
	Owner          string          `json:"owner"`
	Repo           string          `json:"repo"`
	Timestamp      *string         `json:"timestamp"`
	Unread         bool            `json:"unread"`
	Saved          bool            `json:"saved"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

func (view ItemView) From(entity models.Item) ItemView {
	v := ItemView{
		ID:             entity.ID,
		SubscriptionID: entity.SubscriptionID,
		Kind:           string(entity.Kind),
		Type:           entity.Type,
		Owner:          entity.Owner,
		Repo:           entity.Repo,
		Timestamp:      isoformat(entity.Timestamp),
		Unread:         entity.Unread,
		Saved:          entity.Saved,
	}
	if json.Valid(entity.Payload) {
		v.Payload = entity.Payload
	}
	return v
}

type FeedView struct {
	Column        ColumnView       `json:"column"`
	Items         []ItemView       `json:"items"`
	LoadState     models.LoadState `json:"load_state"`
	CanFetchMore  bool             `json:"can_fetch_more"`
	ErrorMessage  *string          `json:"error_message"`
	LastFetchedAt *string          `json:"last_fetched_at"`
}

func (view FeedView) From(entity *lib.Feed) FeedView {
	v := FeedView{
		Column:        ColumnView{}.From(entity.Column),
		Items:         FromMany[models.Item, ItemView](entity.Items),
		LoadState:     entity.LoadState,
		CanFetchMore:  entity.CanFetchMore,
		LastFetchedAt: isoformat(entity.LastFetchedAt),
	}
	if entity.ErrorMessage != "" {
		v.ErrorMessage = &entity.ErrorMessage
	}
	return v
}

type SelectionView struct {
	Index int      `json:"index"`
	Item  ItemView `json:"item"`
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
