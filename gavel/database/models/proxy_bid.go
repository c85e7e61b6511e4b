package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ProxyBid is a confidential maximum bid. MaxAmount must never appear in
// published events or any other bidder-visible surface.
type ProxyBid struct {
	bun.BaseModel `bun:"table:proxy_bids,alias:pb"`

	ID        int64     `bun:"id,pk,autoincrement"`
	LotID     int64     `bun:"lot_id,notnull"`
	BidderID  string    `bun:"bidder_id,notnull"`
	MaxAmount int64     `bun:"max_amount,notnull"`
	Active    bool      `bun:"active,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
