package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffu/hubdeck/lib/github"
	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ColumnSubscription struct {
	Subtype string                    `json:"subtype"`
	Params  models.SubscriptionParams `json:"params"`
}

type CreateColumnInput struct {
	Type          models.ColumnType     `json:"type"`
	Subscriptions []ColumnSubscription  `json:"subscriptions"`
	Filters       models.Filters        `json:"filters"`
	Options       models.DisplayOptions `json:"options"`
}

type createColumn struct {
	log    *zap.Logger
	db     *gorm.DB
	store  *store.Store
	poller Poller
}

// CreateColumn validates every target, registers the subscriptions (shared
// with other columns watching the same target) and mounts the column.
func (svc *createColumn) CreateColumn(ctx context.Context, in CreateColumnInput) (*models.Column, error) {
	subs, err := svc.subscriptionsIfValidTargets(in)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := svc.db.WithContext(ctx).Model(&models.Column{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if in.Options.Position == 0 {
		in.Options.Position = int(count)
	}

	column := &models.Column{
		ID:      uuid.NewString(),
		Type:    in.Type,
		Filters: in.Filters,
		Options: in.Options,
	}
	for _, sub := range subs {
		if _, err := svc.store.Ensure(sub); err != nil {
			return nil, err
		}
		column.SubscriptionIDs = append(column.SubscriptionIDs, sub.ID)
	}

	tx := svc.db.WithContext(ctx).Create(column)
	if err := tx.Error; err != nil {
		return nil, err
	}
	svc.poller.Watch(*column)

	svc.log.Sugar().Infow("Created column", "column_id", column.ID, "type", column.Type, "subscriptions", len(subs))
	return column, nil
}

func (svc *createColumn) subscriptionsIfValidTargets(in CreateColumnInput) ([]models.Subscription, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidColumnType, in.Type)
	}
	if len(in.Subscriptions) == 0 {
		return nil, fmt.Errorf("%w: at least one subscription is required", ErrInvalidColumn)
	}

	seen := make(map[string]struct{}, len(in.Subscriptions))
	subs := make([]models.Subscription, 0, len(in.Subscriptions))
	for _, target := range in.Subscriptions {
		params := target.Params.Normalized()
		sub := models.Subscription{
			ID:      models.SubscriptionID(in.Type, target.Subtype, params),
			Type:    in.Type,
			Subtype: target.Subtype,
			Params:  params,
		}
		if _, _, err := github.Endpoint(&sub); err != nil {
			if errors.Is(err, github.ErrUnsupportedTarget) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidColumn, err)
			}
			return nil, err
		}
		if _, ok := seen[sub.ID]; ok {
			continue
		}
		seen[sub.ID] = struct{}{}
		subs = append(subs, sub)
	}
	return subs, nil
}
