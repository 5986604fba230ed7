package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib/github"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/state"
	"github.com/fiffu/hubdeck/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type call struct {
	subscriptionID string
	page           int
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []call
	// sizes maps a page number to the number of items returned for it.
	sizes map[int]int
	err   error
}

func (f *fakeFetcher) FetchPage(ctx context.Context, sub *models.Subscription, page, perPage int) (*github.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{sub.ID, page})
	if f.err != nil {
		return nil, f.err
	}

	n, ok := f.sizes[page]
	if !ok {
		n = perPage
	}
	items := make(models.Items, n)
	for i := range items {
		offset := (page-1)*perPage + i
		items[i] = models.Item{
			SubscriptionID: sub.ID,
			ID:             fmt.Sprintf("%s-%d", sub.Subtype, offset),
			Kind:           sub.Type,
			Type:           "PushEvent",
			Timestamp:      base.Add(-time.Duration(offset) * time.Minute),
			Unread:         true,
		}
	}
	p := &github.Page{Items: items, Received: n}
	p.Oldest = state.OldestTimestamp(items)
	return p, nil
}

func (f *fakeFetcher) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func setup(t *testing.T, fetcher *fakeFetcher) (*Poller, *store.Store) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.Item{}))

	lc := fxtest.NewLifecycle(t)
	log := zaptest.NewLogger(t)
	st := store.NewStore(lc, db, log)
	lc.RequireStart()
	t.Cleanup(lc.RequireStop)

	cfg := &config.Config{}
	cfg.GitHub.PerPage = 10
	cfg.GitHub.TimeoutSecs = 5
	cfg.Poll.IntervalSecs = 60
	cfg.Poll.Concurrency = 2
	p := newPoller(cfg, log, st, fetcher)
	t.Cleanup(p.Stop)
	return p, st
}

func column(t *testing.T, st *store.Store, subtypes ...string) models.Column {
	col := models.Column{ID: "col", Type: models.ColumnTypeActivity}
	for _, subtype := range subtypes {
		params := models.SubscriptionParams{Username: "fiffu"}
		sub := models.Subscription{
			ID:      models.SubscriptionID(models.ColumnTypeActivity, subtype, params),
			Type:    models.ColumnTypeActivity,
			Subtype: subtype,
			Params:  params,
		}
		_, err := st.Ensure(sub)
		require.NoError(t, err)
		col.SubscriptionIDs = append(col.SubscriptionIDs, sub.ID)
	}
	return col
}

func TestWatch_MountFetchesFirstPageImmediately(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := setup(t, fetcher)
	col := column(t, st, models.SubtypeUserEvents, models.SubtypeUserReceivedEvents)

	p.Watch(col)
	assert.True(t, p.Watching(col.ID))

	require.Eventually(t, func() bool {
		for _, id := range col.SubscriptionIDs {
			s, _ := st.Get(id)
			if s.LoadState != models.LoadStateLoaded {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	for _, id := range col.SubscriptionIDs {
		s, _ := st.Get(id)
		assert.Len(t, s.Items, 10)
		assert.True(t, s.CanFetchMore)
		assert.Equal(t, 1, s.Page)
	}
}

func TestWatch_IntervalTicksUntilUnwatched(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := setup(t, fetcher)
	p.interval = 20 * time.Millisecond
	col := column(t, st, models.SubtypeUserEvents)

	p.Watch(col)
	require.Eventually(t, func() bool { return len(fetcher.Calls()) >= 3 }, time.Second, 5*time.Millisecond)

	p.Unwatch(col.ID)
	assert.False(t, p.Watching(col.ID))
	settled := len(fetcher.Calls())
	time.Sleep(100 * time.Millisecond)
	// at most one fetch was already in flight when the timer stopped
	assert.LessOrEqual(t, len(fetcher.Calls()), settled+1)
}

func TestFetchNextPage_AdvancesUntilShortPage(t *testing.T) {
	fetcher := &fakeFetcher{sizes: map[int]int{2: 3}}
	p, st := setup(t, fetcher)
	col := column(t, st, models.SubtypeUserEvents)
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx, col))
	require.NoError(t, p.FetchNextPage(ctx, col))

	s, _ := st.Get(col.SubscriptionIDs[0])
	assert.Equal(t, 2, s.Page)
	assert.Len(t, s.Items, 13)
	assert.False(t, s.CanFetchMore)

	assert.ErrorIs(t, p.FetchNextPage(ctx, col), ErrNoMorePages)
	assert.Equal(t, []call{{col.SubscriptionIDs[0], 1}, {col.SubscriptionIDs[0], 2}}, fetcher.Calls())
}

func TestReload_DoesNotReopenExhaustedPagination(t *testing.T) {
	fetcher := &fakeFetcher{sizes: map[int]int{2: 3}}
	p, st := setup(t, fetcher)
	col := column(t, st, models.SubtypeUserEvents)
	subID := col.SubscriptionIDs[0]
	ctx := context.Background()

	require.NoError(t, p.Refresh(ctx, col))
	require.NoError(t, p.FetchNextPage(ctx, col))
	s, _ := st.Get(subID)
	require.False(t, s.CanFetchMore)

	require.NoError(t, p.reload(ctx, col, true))

	s, _ = st.Get(subID)
	assert.False(t, s.CanFetchMore)
	assert.Equal(t, 2, s.Page)
	assert.ErrorIs(t, p.FetchNextPage(ctx, col), ErrNoMorePages)
	assert.Equal(t, []call{{subID, 1}, {subID, 2}, {subID, 1}}, fetcher.Calls())
}

func TestFetchNextPage_StopsAtWatermark(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := setup(t, fetcher)
	col := column(t, st, models.SubtypeUserEvents)
	clearedAt := base.Add(-time.Hour)
	col.Filters.ClearedAt = &clearedAt
	ctx := context.Background()

	// the page spans base-9m..base, all newer than the watermark
	require.NoError(t, p.Refresh(ctx, col))
	s, _ := st.Get(col.SubscriptionIDs[0])
	require.True(t, s.CanFetchMore)

	newer := base
	col.Filters.ClearedAt = &newer
	require.NoError(t, p.Refresh(ctx, col))
	s, _ = st.Get(col.SubscriptionIDs[0])
	assert.False(t, s.CanFetchMore)
	assert.ErrorIs(t, p.FetchNextPage(ctx, col), ErrNoMorePages)
}

func TestRefresh_FailureIsRecordedOnSubscription(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("GET /users/fiffu/events: 502")}
	p, st := setup(t, fetcher)
	col := column(t, st, models.SubtypeUserEvents)

	require.NoError(t, p.Refresh(context.Background(), col))

	s, _ := st.Get(col.SubscriptionIDs[0])
	assert.Equal(t, models.LoadStateError, s.LoadState)
	assert.Contains(t, s.ErrorMessage, "502")
}

func TestReload_BackgroundSkipsLoadingMore(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := setup(t, fetcher)
	col := column(t, st, models.SubtypeUserEvents, models.SubtypeUserReceivedEvents)
	busy := col.SubscriptionIDs[0]

	_, err := st.Dispatch(state.FetchRequested{SubscriptionID: busy, Page: 2, PerPage: 10})
	require.NoError(t, err)

	require.NoError(t, p.reload(context.Background(), col, true))

	calls := fetcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, col.SubscriptionIDs[1], calls[0].subscriptionID)
	s, _ := st.Get(busy)
	assert.Equal(t, models.LoadStateLoadingMore, s.LoadState)
}

func TestPurgeOldItems(t *testing.T) {
	fetcher := &fakeFetcher{}
	p, st := setup(t, fetcher)
	p.itemTTL = 5 * time.Minute
	col := column(t, st, models.SubtypeUserEvents)
	require.NoError(t, p.Refresh(context.Background(), col))

	p.purgeOldItems(base)

	s, _ := st.Get(col.SubscriptionIDs[0])
	assert.Len(t, s.Items, 6)
}
