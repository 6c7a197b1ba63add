package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the durable inbox row for one authenticated provider event.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:varchar(32);not null;uniqueIndex:ux_billing_event_inbox,priority:1"`
	ProviderEventID string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_event_inbox,priority:2"`
	EventType       string         `gorm:"type:varchar(128);not null"`
	Payload         datatypes.JSON `gorm:"not null"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time
}

func (EventRecord) TableName() string { return "billing_event_inbox" }
