// Package poller drives subscription fetches: on column mount, on a fixed
// interval, on explicit refresh and when the next page is requested.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fiffu/hubdeck/config"
	"github.com/fiffu/hubdeck/lib/github"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/state"
	"github.com/fiffu/hubdeck/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNoMorePages = errors.New("no subscription can fetch more")

const janitorInterval = time.Hour

type Fetcher interface {
	FetchPage(ctx context.Context, sub *models.Subscription, page, perPage int) (*github.Page, error)
}

type Poller struct {
	log     *zap.Logger
	store   *store.Store
	fetcher Fetcher

	interval    time.Duration
	timeout     time.Duration
	concurrency int
	perPage     int
	itemTTL     time.Duration

	mu      sync.Mutex
	watches map[string]*watch
	janitor *alarmClock
}

// watch is the per-column timer handle plus the latest column definition.
type watch struct {
	mu     sync.Mutex
	column models.Column
	clock  *alarmClock
}

func (w *watch) Column() models.Column {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.column
}

func NewPoller(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, st *store.Store, client *github.Client) *Poller {
	p := newPoller(cfg, log, st, client)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop poller")
			p.Stop()
			return nil
		},
	})

	return p
}

func newPoller(cfg *config.Config, log *zap.Logger, st *store.Store, fetcher Fetcher) *Poller {
	return &Poller{
		log:         log,
		store:       st,
		fetcher:     fetcher,
		interval:    cfg.PollInterval(),
		timeout:     cfg.RequestTimeout(),
		concurrency: cfg.Poll.Concurrency,
		perPage:     config.ClampPerPage(cfg.GitHub.PerPage),
		itemTTL:     cfg.ItemTTL(),
		watches:     make(map[string]*watch),
	}
}

// Start runs the retention janitor.
func (p *Poller) Start() {
	if p.itemTTL <= 0 {
		return
	}
	p.janitor = newAlarmClock(janitorInterval)
	events := p.janitor.Start(context.Background())
	go func() {
		for evt := range events {
			p.purgeOldItems(evt.Timestamp())
		}
	}()
}

// Stop cancels every column's timer and the janitor.
func (p *Poller) Stop() {
	p.mu.Lock()
	watches := p.watches
	p.watches = make(map[string]*watch)
	p.mu.Unlock()

	for _, w := range watches {
		w.clock.Stop()
	}
	watchedColumns.Set(0)
	if p.janitor != nil {
		p.janitor.Stop()
	}
	p.log.Sugar().Info("Poller stopped")
}

// Watch mounts a column: page 1 of each subscription is fetched right away,
// then reloaded every interval. Watching a mounted column only replaces its
// definition.
func (p *Poller) Watch(column models.Column) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.watches[column.ID]; ok {
		w.mu.Lock()
		w.column = column
		w.mu.Unlock()
		return
	}

	w := &watch{column: column, clock: newAlarmClock(p.interval)}
	p.watches[column.ID] = w
	watchedColumns.Inc()

	events := w.clock.Start(context.Background())
	go func() {
		for evt := range events {
			p.handleEvent(w, evt)
		}
	}()
}

// Unwatch releases the column's timer. Fetches already in flight complete.
func (p *Poller) Unwatch(columnID string) {
	p.mu.Lock()
	w, ok := p.watches[columnID]
	delete(p.watches, columnID)
	p.mu.Unlock()

	if ok {
		w.clock.Stop()
		watchedColumns.Dec()
	}
}

func (p *Poller) Watching(columnID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watches[columnID]
	return ok
}

func (p *Poller) handleEvent(w *watch, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*p.timeout)
	defer cancel()

	column := w.Column()
	startedAt := time.Now().UTC()

	var err error
	switch evt.(type) {
	case mountEvent:
		err = p.reload(ctx, column, false)
	case intervalEvent:
		err = p.reload(ctx, column, true)
	}
	if err != nil {
		p.log.Sugar().Errorw("Poll failed", "column_id", column.ID, "err", err)
	}

	elapsed := time.Now().UTC().Sub(startedAt)
	p.log.Sugar().Debugw("Poll completed", "column_id", column.ID, "elapsed_msecs", int(elapsed.Milliseconds()))
}

// Refresh fetches page 1 of every subscription of the column, merging the
// result into what is already loaded.
func (p *Poller) Refresh(ctx context.Context, column models.Column) error {
	return p.reload(ctx, column, false)
}

// FetchNextPage fetches the page after the last loaded one for every
// subscription that can still fetch more.
func (p *Poller) FetchNextPage(ctx context.Context, column models.Column) error {
	type target struct {
		id   string
		page int
	}
	var targets []target
	for _, id := range column.SubscriptionIDs {
		st, ok := p.store.Get(id)
		if !ok || !st.CanFetchMore || st.LoadState.IsLoading() {
			continue
		}
		if state.WatermarkReached(st.Items, column.ClearedAt()) {
			continue
		}
		targets = append(targets, target{id, max(1, st.Page) + 1})
	}
	if len(targets) == 0 {
		return ErrNoMorePages
	}

	m := &pollMetrics{}
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			return p.fetch(ctx, column, t.id, t.page, m)
		})
	}
	err := g.Wait()
	m.log(p.log, column.ID)
	return err
}

// reload fetches page 1 of each subscription. Background reloads leave alone
// subscriptions whose next page is still loading, since a newer sequence
// number would discard that result.
func (p *Poller) reload(ctx context.Context, column models.Column, background bool) error {
	m := &pollMetrics{}
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)

	for _, id := range column.SubscriptionIDs {
		if background {
			if st, ok := p.store.Get(id); ok && st.LoadState == models.LoadStateLoadingMore {
				m.record(string(column.Type), outcomeSkipped)
				continue
			}
		}
		g.Go(func() error {
			return p.fetch(ctx, column, id, 1, m)
		})
	}

	err := g.Wait()
	m.log(p.log, column.ID)
	return err
}

// fetch runs request, call and completion for one subscription page. Only
// store failures are returned; GitHub failures land on the subscription state.
func (p *Poller) fetch(ctx context.Context, column models.Column, subscriptionID string, page int, m *pollMetrics) error {
	sub, ok := p.store.Subscription(subscriptionID)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownSubscription, subscriptionID)
	}
	columnType := string(sub.Type)

	requested, err := p.store.Dispatch(state.FetchRequested{SubscriptionID: sub.ID, Page: page, PerPage: p.perPage})
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	startedAt := time.Now()
	res, fetchErr := p.fetcher.FetchPage(reqCtx, &sub, page, p.perPage)
	fetchDuration.WithLabelValues(columnType).Observe(time.Since(startedAt).Seconds())

	if fetchErr != nil {
		m.record(columnType, outcomeErrored)
		p.log.Sugar().Errorw("Error fetching subscription", "subscription_id", sub.ID, "page", page, "err", fetchErr)
		_, err := p.store.Dispatch(state.FetchFailed{
			SubscriptionID: sub.ID,
			Seq:            requested.Seq,
			Err:            fetchErr,
			FailedAt:       time.Now().UTC(),
		})
		return err
	}

	fetchedItems.WithLabelValues(columnType).Observe(float64(len(res.Items)))
	next, err := p.store.Dispatch(state.FetchSucceeded{
		SubscriptionID: sub.ID,
		Seq:            requested.Seq,
		Page:           page,
		Data:           res.Items,
		CanFetchMore:   state.CanFetchMoreAfter(res.Received, res.Oldest, p.perPage, column.ClearedAt()),
		FetchedAt:      time.Now().UTC(),
		Oldest:         res.Oldest,
	})
	if err != nil {
		return err
	}

	if next.Version != requested.Version {
		m.record(columnType, outcomeUpdated)
	} else {
		m.record(columnType, outcomeUnchanged)
	}
	return nil
}

func (p *Poller) purgeOldItems(now time.Time) {
	purged, err := p.store.PurgeOlderThan(now.Add(-p.itemTTL))
	if err != nil {
		p.log.Sugar().Errorf("purgeOldItems error: %+v", err)
	}
	if purged > 0 {
		purgedItems.Add(float64(purged))
		p.log.Sugar().Infof("Purged %d old items", purged)
	}
}
