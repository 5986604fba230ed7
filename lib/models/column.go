package models

import (
	"time"
)

type Filters struct {
	ClearedAt *time.Time `json:"clearedAt,omitempty"`
	Types     []string   `json:"types,omitempty"`
	Owners    []string   `json:"owners,omitempty"`
	Unread    *bool      `json:"unread,omitempty"`
}

type DisplayOptions struct {
	Title    string `json:"title,omitempty"`
	Position int    `json:"position"`
}

type Column struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Type            ColumnType
	SubscriptionIDs []string       `gorm:"serializer:json"`
	Filters         Filters        `gorm:"serializer:json"`
	Options         DisplayOptions `gorm:"serializer:json"`
}

type Columns []Column

func (c *Column) ClearedAt() *time.Time {
	return c.Filters.ClearedAt
}
