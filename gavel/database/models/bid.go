package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Bid is immutable once recorded. Sequence is assigned by the ledger and is
// strictly increasing per lot.
type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        string    `bun:"id,pk"`
	LotID     int64     `bun:"lot_id,notnull"`
	BidderID  string    `bun:"bidder_id,notnull"`
	Amount    int64     `bun:"amount,notnull"`
	Sequence  int64     `bun:"sequence,notnull"`
	Proxy     bool      `bun:"proxy,notnull,default:false"`
	Timestamp time.Time `bun:"timestamp,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
}
