package models

import (
	"time"

	"github.com/uptrace/bun"
)

// QueueEntry orders pending lots. Positions are contiguous and start at 1.
type QueueEntry struct {
	bun.BaseModel `bun:"table:queue_entries,alias:q"`

	LotID         int64      `bun:"lot_id,pk"`
	Position      int        `bun:"position,notnull,unique"`
	ScheduledTime *time.Time `bun:"scheduled_time"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
