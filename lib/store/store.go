// Package store keeps subscription states in memory, mutated only through
// Dispatch, and mirrors them to the database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/state"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUnknownSubscription = errors.New("unknown subscription")

type Store struct {
	mu      sync.RWMutex
	db      *gorm.DB
	log     *zap.Logger
	states  map[string]state.State
	subs    map[string]models.Subscription
	version uint64
	// seqs keeps the last request sequence of deleted subscriptions, so that
	// a response still in flight cannot match a recreated one.
	seqs map[string]uint64
}

func NewStore(lc fx.Lifecycle, db *gorm.DB, log *zap.Logger) *Store {
	s := newStore(db, log)
	lc.Append(fx.Hook{
		OnStart: s.Hydrate,
	})
	return s
}

func newStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{
		db:     db,
		log:    log,
		states: make(map[string]state.State),
		subs:   make(map[string]models.Subscription),
		seqs:   make(map[string]uint64),
	}
}

// Ensure registers the subscription if it is not known yet and returns its
// current state.
func (s *Store) Ensure(sub models.Subscription) (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[sub.ID]; ok {
		return st, nil
	}

	sub.LoadState = models.LoadStateNotLoaded
	tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub)
	if err := tx.Error; err != nil {
		return state.State{}, err
	}

	st := state.New(sub.ID)
	st.Seq = s.seqs[sub.ID]
	delete(s.seqs, sub.ID)
	s.states[sub.ID] = st
	s.subs[sub.ID] = sub
	return st, nil
}

// Dispatch applies the event and persists the resulting state. The state in
// memory only advances once the database write succeeded.
func (s *Store) Dispatch(e state.Event) (state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := e.Subscription()
	prev, ok := s.states[id]
	if !ok {
		return state.State{}, ErrUnknownSubscription
	}

	next := state.Reduce(prev, e)
	if next.Version != prev.Version {
		s.version++
		next.Version = s.version
	}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		return persist(tx, prev, next, e)
	}); err != nil {
		return prev, err
	}

	s.states[id] = next
	return next, nil
}

func persist(tx *gorm.DB, prev, next state.State, e state.Event) error {
	if err := saveSubscription(tx, next); err != nil {
		return err
	}

	var changed models.Items
	switch e := e.(type) {
	case state.FetchSucceeded:
		if next.Version != prev.Version {
			// next holds the annotations carried over by the merge
			changed = pick(next.Items, ids(e.Data))
		}
	case state.ItemsMarked:
		if next.Version != prev.Version {
			changed = pick(next.Items, e.IDs)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "item_id"}},
			UpdateAll: true,
		}).
		CreateInBatches(changed, 100).
		Error
}

func saveSubscription(tx *gorm.DB, st state.State) error {
	updates := map[string]any{
		"load_state":     st.LoadState,
		"page":           st.Page,
		"per_page":       st.PerPage,
		"can_fetch_more": st.CanFetchMore,
		"error_message":  st.ErrorMessage,
		"last_fetched_at": sql.NullTime{
			Time:  st.LastFetchedAt,
			Valid: !st.LastFetchedAt.IsZero(),
		},
	}
	return tx.Model(&models.Subscription{}).Where("id = ?", st.SubscriptionID).Updates(updates).Error
}

func (s *Store) Get(id string) (state.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[id]
	return st, ok
}

func (s *Store) Subscription(id string) (models.Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	return sub, ok
}

// Delete forgets the subscriptions along with their items.
func (s *Store) Delete(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if st, ok := s.states[id]; ok {
			s.seqs[id] = st.Seq
		}
		delete(s.states, id)
		delete(s.subs, id)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id IN ?", ids).Delete(&models.Item{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Subscription{}).Error
	})
}

// Hydrate loads every persisted subscription with its items. Loading flags
// from a previous run are reset.
func (s *Store) Hydrate(ctx context.Context) error {
	var subs models.Subscriptions
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return err
	}

	states := make(map[string]state.State, len(subs))
	for _, sub := range subs {
		var items models.Items
		tx := s.db.WithContext(ctx).
			Where("subscription_id = ?", sub.ID).
			Order("timestamp desc").
			Find(&items)
		if err := tx.Error; err != nil {
			return err
		}

		st := state.State{
			SubscriptionID: sub.ID,
			LoadState:      sub.LoadState,
			Items:          items,
			Page:           sub.Page,
			PerPage:        sub.PerPage,
			CanFetchMore:   sub.CanFetchMore,
			LastFetchedAt:  sub.LastFetchedAt.Time,
			ErrorMessage:   sub.ErrorMessage,
		}
		states[sub.ID] = state.Rehydrate(st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		st := states[sub.ID]
		s.version++
		st.Version = s.version
		s.states[sub.ID] = st
		s.subs[sub.ID] = sub
	}
	s.log.Sugar().Infow("Hydrated subscriptions", "count", len(subs))
	return nil
}

// PurgeOlderThan drops items timestamped before cutoff, in memory and on disk.
func (s *Store) PurgeOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, st := range s.states {
		kept := make(models.Items, 0, len(st.Items))
		for _, it := range st.Items {
			if !it.Timestamp.Before(cutoff) {
				kept = append(kept, it)
			}
		}
		if len(kept) != len(st.Items) {
			s.version++
			st.Items = kept
			st.Version = s.version
			s.states[id] = st
		}
	}

	tx := s.db.Where("timestamp < ?", cutoff).Delete(&models.Item{})
	return tx.RowsAffected, tx.Error
}

func ids(items models.Items) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func pick(items models.Items, wanted []string) models.Items {
	set := make(map[string]struct{}, len(wanted))
	for _, id := range wanted {
		set[id] = struct{}{}
	}
	out := make(models.Items, 0, len(wanted))
	for _, it := range items {
		if _, ok := set[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out
}
