package models

import (
	"time"

	"github.com/uptrace/bun"
)

type LotPhase string

const (
	PhasePending    LotPhase = "pending"
	PhasePreBidding LotPhase = "pre_bidding"
	PhaseBidding    LotPhase = "bidding"
	PhaseGoingOnce  LotPhase = "going_once"
	PhaseGoingTwice LotPhase = "going_twice"
	PhaseFinalCall  LotPhase = "final_call"
	PhaseSold       LotPhase = "sold"
	PhaseUnsold     LotPhase = "unsold"
)

// Live reports whether the lot currently occupies the single live slot
// and accepts live bids.
func (p LotPhase) Live() bool {
	switch p {
	case PhaseBidding, PhaseGoingOnce, PhaseGoingTwice, PhaseFinalCall:
		return true
	}
	return false
}

// AcceptsProxy reports whether confidential maximum bids may be placed.
func (p LotPhase) AcceptsProxy() bool {
	return p == PhasePreBidding || p.Live()
}

func (p LotPhase) Terminal() bool {
	return p == PhaseSold || p == PhaseUnsold
}

type Lot struct {
	bun.BaseModel `bun:"table:lots,alias:l"`

	ID           int64    `bun:"id,pk,autoincrement"`
	LotCode      string   `bun:"lot_code,notnull,unique"`
	AskingBid    int64    `bun:"asking_bid,notnull"`
	CurrentBid   int64    `bun:"current_bid,notnull"`
	BidCount     int      `bun:"bid_count,notnull"`
	MinIncrement int64    `bun:"min_increment,notnull"`
	Phase        LotPhase `bun:"phase,notnull"`
	TopBidderID  string   `bun:"top_bidder_id"`

	QueuePosition *int `bun:"queue_position"`

	StartTime   time.Time `bun:"start_time"`
	EndTime     time.Time `bun:"end_time"`
	LastBidTime time.Time `bun:"last_bid_time"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// Clone returns a copy safe to hand out while the original keeps mutating
// under the lot's serialization lock.
func (l *Lot) Clone() *Lot {
	c := *l
	if l.QueuePosition != nil {
		pos := *l.QueuePosition
		c.QueuePosition = &pos
	}
	return &c
}
