package models

import (
	"time"
)

// Item is one record fetched from GitHub: an event, issue, pull request or
// notification thread. Payload keeps the raw JSON object.
type Item struct {
	SubscriptionID string `gorm:"primaryKey"`
	ID             string `gorm:"primaryKey;column:item_id"`
	Kind           ColumnType
	Type           string `gorm:"index"`
	Owner          string
	Repo           string
	Timestamp      time.Time `gorm:"index"`
	Unread         bool
	Saved          bool
	Payload        []byte
}

type Items []Item

// IsNotification reports whether read state is owned by GitHub rather than
// tracked locally.
func (it *Item) IsNotification() bool {
	return it.Kind == ColumnTypeNotifications
}
