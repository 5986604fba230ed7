package lib

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fiffu/hubdeck/lib/filter"
	"github.com/fiffu/hubdeck/lib/github"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/poller"
	"github.com/fiffu/hubdeck/lib/state"
	"github.com/fiffu/hubdeck/lib/store"
	"github.com/fiffu/hubdeck/lib/viewport"
	"github.com/fiffu/hubdeck/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrColumnNotFound    = errors.New("column not found")
	ErrInvalidColumn     = errors.New("invalid column")
	ErrInvalidColumnType = errors.New("invalid column type")
	ErrNothingSelected   = errors.New("no item selected")
	ErrNoMorePages       = poller.ErrNoMorePages
)

const selectorCacheSize = 256

type Poller interface {
	Watch(column models.Column)
	Unwatch(columnID string)
	Refresh(ctx context.Context, column models.Column) error
	FetchNextPage(ctx context.Context, column models.Column) error
}

type ThreadMarker interface {
	MarkThreadRead(ctx context.Context, threadID string) error
}

type Reporter interface {
	Notify(ctx context.Context, report *models.ErrorReport) error
}

type Service struct {
	log      *zap.Logger
	db       *gorm.DB
	store    *store.Store
	poller   Poller
	threads  ThreadMarker
	reporter Reporter
	selector *filter.Selector
	tracker  *viewport.Tracker

	*createColumn
}

func NewService(
	lc fx.Lifecycle,
	log *zap.Logger,
	db *gorm.DB,
	st *store.Store,
	p *poller.Poller,
	client *github.Client,
	registry senders.Registry,
) (*Service, error) {
	svc, err := newService(log, db, st, p, client, registry)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: svc.watchAll,
	})
	return svc, nil
}

func newService(log *zap.Logger, db *gorm.DB, st *store.Store, p Poller, threads ThreadMarker, reporter Reporter) (*Service, error) {
	selector, err := filter.NewSelector(selectorCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		log, db, st, p, threads, reporter,
		selector, viewport.NewTracker(),
		&createColumn{log, db, st, p},
	}, nil
}

// watchAll mounts every stored column.
func (svc *Service) watchAll(ctx context.Context) error {
	columns, err := svc.ListColumns(ctx)
	if err != nil {
		return err
	}
	for _, col := range columns {
		if col.Type.Valid() {
			svc.poller.Watch(col)
		}
	}
	svc.log.Sugar().Infof("Watching %d columns", len(columns))
	return nil
}

func (svc *Service) ListColumns(ctx context.Context) (models.Columns, error) {
	var columns models.Columns
	if err := svc.db.WithContext(ctx).Find(&columns).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i].Options.Position != columns[j].Options.Position {
			return columns[i].Options.Position < columns[j].Options.Position
		}
		return columns[i].CreatedAt.Before(columns[j].CreatedAt)
	})
	return columns, nil
}

func (svc *Service) GetColumn(ctx context.Context, columnID string) (*models.Column, error) {
	column := &models.Column{}
	tx := svc.db.WithContext(ctx).Where("id = ?", columnID).First(column)
	if err := tx.Error; errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrColumnNotFound
	} else if err != nil {
		return nil, err
	}
	return column, nil
}

func (svc *Service) UpdateColumnFilters(ctx context.Context, columnID string, filters models.Filters) (*models.Column, error) {
	column, err := svc.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	column.Filters = filters
	if err := svc.db.WithContext(ctx).Save(column).Error; err != nil {
		return nil, err
	}
	if column.Type.Valid() {
		svc.poller.Watch(*column)
	}
	return column, nil
}

// ClearColumn hides everything fetched so far by moving the watermark to now.
func (svc *Service) ClearColumn(ctx context.Context, columnID string) (*models.Column, error) {
	column, err := svc.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	filters := column.Filters
	now := time.Now().UTC()
	filters.ClearedAt = &now
	return svc.UpdateColumnFilters(ctx, columnID, filters)
}

// DeleteColumn unmounts the column and drops the subscriptions no other
// column references.
func (svc *Service) DeleteColumn(ctx context.Context, columnID string) error {
	column, err := svc.GetColumn(ctx, columnID)
	if err != nil {
		return err
	}

	svc.poller.Unwatch(column.ID)
	svc.tracker.Forget(column.ID)
	if err := svc.db.WithContext(ctx).Delete(column).Error; err != nil {
		return err
	}

	remaining, err := svc.ListColumns(ctx)
	if err != nil {
		return err
	}
	referenced := make(map[string]struct{})
	for _, col := range remaining {
		for _, id := range col.SubscriptionIDs {
			referenced[id] = struct{}{}
		}
	}
	var orphans []string
	for _, id := range column.SubscriptionIDs {
		if _, ok := referenced[id]; !ok {
			orphans = append(orphans, id)
		}
	}

	svc.log.Sugar().Infow("Deleted column", "column_id", column.ID, "dropped_subscriptions", len(orphans))
	return svc.store.Delete(orphans...)
}

type Feed struct {
	Column        models.Column
	Items         models.Items
	LoadState     models.LoadState
	CanFetchMore  bool
	ErrorMessage  string
	LastFetchedAt time.Time
}

// ColumnFeed projects the column's subscriptions through its filters. A
// column of unknown type is reported and yields ErrInvalidColumnType.
func (svc *Service) ColumnFeed(ctx context.Context, columnID string) (*Feed, error) {
	column, err := svc.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if !column.Type.Valid() {
		svc.reportInvalidColumn(ctx, column)
		return nil, fmt.Errorf("%w: %q", ErrInvalidColumnType, column.Type)
	}

	feed := &Feed{
		Column: *column,
		Items:  svc.selector.Select(svc.store, column.SubscriptionIDs, column.Filters),
	}

	var states []state.State
	for _, id := range column.SubscriptionIDs {
		if st, ok := svc.store.Get(id); ok {
			states = append(states, st)
		}
	}
	feed.LoadState = aggregateLoadState(states)
	for _, st := range states {
		feed.CanFetchMore = feed.CanFetchMore || st.CanFetchMore
		if feed.ErrorMessage == "" {
			feed.ErrorMessage = st.ErrorMessage
		}
		if st.LastFetchedAt.After(feed.LastFetchedAt) {
			feed.LastFetchedAt = st.LastFetchedAt
		}
	}
	if feed.CanFetchMore {
		all := svc.selector.Combined(svc.store, column.SubscriptionIDs)
		feed.CanFetchMore = !state.WatermarkReached(all, column.ClearedAt())
	}
	return feed, nil
}

// aggregateLoadState reports the most urgent state among the subscriptions.
func aggregateLoadState(states []state.State) models.LoadState {
	if len(states) == 0 {
		return models.LoadStateNotLoaded
	}
	has := make(map[models.LoadState]bool, len(states))
	for _, st := range states {
		has[st.LoadState] = true
	}
	for _, ls := range []models.LoadState{
		models.LoadStateLoadingFirst,
		models.LoadStateLoadingMore,
		models.LoadStateLoading,
		models.LoadStateError,
		models.LoadStateLoaded,
	} {
		if has[ls] {
			return ls
		}
	}
	return models.LoadStateNotLoaded
}

func (svc *Service) reportInvalidColumn(ctx context.Context, column *models.Column) {
	svc.log.Sugar().Errorw("Invalid column type", "column_id", column.ID, "type", column.Type)
	svc.report(ctx, &models.ErrorReport{
		Name:       "InvalidColumnType",
		Message:    "Invalid column type",
		Context:    map[string]any{"columnId": column.ID, "type": string(column.Type)},
		OccurredAt: time.Now().UTC(),
	})
}

func (svc *Service) report(ctx context.Context, report *models.ErrorReport) {
	if err := svc.reporter.Notify(ctx, report); err != nil {
		svc.log.Sugar().Warnw("Failed to deliver error report", "name", report.Name, "err", err)
	}
}

func (svc *Service) Refresh(ctx context.Context, columnID string) (*Feed, error) {
	column, err := svc.validColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if err := svc.poller.Refresh(ctx, *column); err != nil {
		return nil, err
	}
	return svc.ColumnFeed(ctx, columnID)
}

func (svc *Service) FetchNextPage(ctx context.Context, columnID string) (*Feed, error) {
	column, err := svc.validColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if err := svc.poller.FetchNextPage(ctx, *column); err != nil {
		return nil, err
	}
	return svc.ColumnFeed(ctx, columnID)
}

func (svc *Service) validColumn(ctx context.Context, columnID string) (*models.Column, error) {
	column, err := svc.GetColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	if !column.Type.Valid() {
		svc.reportInvalidColumn(ctx, column)
		return nil, fmt.Errorf("%w: %q", ErrInvalidColumnType, column.Type)
	}
	return column, nil
}

// MarkInput annotates IDs, or the selected item when IDs is empty. Nil
// fields are left unchanged.
type MarkInput struct {
	IDs    []string `json:"ids"`
	Unread *bool    `json:"unread,omitempty"`
	Saved  *bool    `json:"saved,omitempty"`
}

// MarkItems records read and save marks. Notification threads marked read
// are also marked read on GitHub.
func (svc *Service) MarkItems(ctx context.Context, columnID string, in MarkInput) error {
	column, err := svc.validColumn(ctx, columnID)
	if err != nil {
		return err
	}

	ids := in.IDs
	if len(ids) == 0 {
		items := svc.selector.Select(svc.store, column.SubscriptionIDs, column.Filters)
		_, it, ok := svc.tracker.Selected(column.ID, items)
		if !ok {
			return ErrNothingSelected
		}
		ids = []string{it.ID}
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var threads []string
	for _, subID := range column.SubscriptionIDs {
		st, ok := svc.store.Get(subID)
		if !ok {
			continue
		}
		if in.Unread != nil && !*in.Unread {
			for _, it := range st.Items {
				if _, ok := wanted[it.ID]; ok && it.IsNotification() && it.Unread {
					threads = append(threads, it.ID)
				}
			}
		}
		_, err := svc.store.Dispatch(state.ItemsMarked{
			SubscriptionID: subID,
			IDs:            ids,
			Unread:         in.Unread,
			Saved:          in.Saved,
		})
		if err != nil {
			return err
		}
	}

	var errs []error
	for _, id := range threads {
		if err := svc.threads.MarkThreadRead(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (svc *Service) SetViewable(ctx context.Context, columnID string, indexes []int) error {
	if _, err := svc.GetColumn(ctx, columnID); err != nil {
		return err
	}
	svc.tracker.SetVisible(columnID, indexes)
	return nil
}

type Selection struct {
	Index int
	Item  models.Item
}

// SelectItem moves the keyboard selection and returns the index the client
// should scroll to.
func (svc *Service) SelectItem(ctx context.Context, columnID string, dir viewport.Direction) (*Selection, error) {
	column, err := svc.validColumn(ctx, columnID)
	if err != nil {
		return nil, err
	}
	items := svc.selector.Select(svc.store, column.SubscriptionIDs, column.Filters)
	idx, it, ok := svc.tracker.Select(column.ID, items, dir)
	if !ok {
		return nil, ErrNothingSelected
	}
	return &Selection{idx, it}, nil
}

// ReportScrollFailure forwards a failed scroll-to-index to error tracking.
// The failure is never surfaced to users.
func (svc *Service) ReportScrollFailure(ctx context.Context, columnID string, failure viewport.ScrollFailure) {
	svc.report(ctx, failure.Report(columnID))
}
