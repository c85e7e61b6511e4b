package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/puzpuzpuz/xsync/v3"
)

// line holds one lot's bid history. It is only touched under the lot's
// serialization point.
type line struct {
	bids    []*models.Bid
	nextSeq int64
}

// Ledger is the append-only record of accepted bids and the sole mutator of
// a lot's CurrentBid and BidCount.
type Ledger struct {
	lines    *xsync.MapOf[int64, *line]
	registry *Registry
	store    Store
}

func NewLedger(registry *Registry, store Store) *Ledger {
	if registry == nil {
		panic("registry cannot be nil")
	}
	if store == nil {
		panic("store cannot be nil")
	}
	return &Ledger{
		lines:    xsync.NewMapOf[int64, *line](),
		registry: registry,
		store:    store,
	}
}

func (l *Ledger) line(lotID int64) *line {
	ln, _ := l.lines.LoadOrCompute(lotID, func() *line { return &line{} })
	return ln
}

// WithLot runs fn while holding the lot's serialization point in the
// registry. Every mutation of a lot record, bid append or phase transition
// for that lot goes through here.
func (l *Ledger) WithLot(lotID int64, fn func() error) error {
	return l.registry.WithLot(lotID, fn)
}

// appendLocked records an accepted bid and advances the lot's current price.
// The caller must hold the lot's serialization point via WithLot.
func (l *Ledger) appendLocked(ctx context.Context, lot *models.Lot, bidderID string, amount int64, submittedAt time.Time, proxy bool) *models.Bid {
	ln := l.line(lot.ID)
	ln.nextSeq++

	bid := &models.Bid{
		ID:        uuid.NewString(),
		LotID:     lot.ID,
		BidderID:  bidderID,
		Amount:    amount,
		Sequence:  ln.nextSeq,
		Proxy:     proxy,
		Timestamp: submittedAt,
		CreatedAt: time.Now(),
	}
	ln.bids = append(ln.bids, bid)

	lot.CurrentBid = amount
	lot.BidCount++
	lot.TopBidderID = bidderID
	lot.LastBidTime = submittedAt
	lot.UpdatedAt = time.Now()

	if err := l.store.SaveBid(ctx, bid); err != nil {
		slog.Error("Failed to persist bid",
			slog.String("bid_id", bid.ID),
			slog.Int64("lot_id", lot.ID),
			slog.Any("error", err))
	}
	if err := l.store.SaveLot(ctx, lot); err != nil {
		slog.Error("Failed to persist lot after bid",
			slog.Int64("lot_id", lot.ID),
			slog.Any("error", err))
	}

	return bid
}

// Seed restores recovered bids without touching the lot record.
func (l *Ledger) Seed(lotID int64, bids []*models.Bid) {
	l.WithLot(lotID, func() error {
		ln := l.line(lotID)
		for _, bid := range bids {
			b := *bid
			ln.bids = append(ln.bids, &b)
			if bid.Sequence > ln.nextSeq {
				ln.nextSeq = bid.Sequence
			}
		}
		return nil
	})
}

// HighestBid returns the current highest valid bid for the lot, or nil.
func (l *Ledger) HighestBid(lotID int64) *models.Bid {
	var top *models.Bid
	l.WithLot(lotID, func() error {
		ln := l.line(lotID)
		if len(ln.bids) > 0 {
			b := *ln.bids[len(ln.bids)-1]
			top = &b
		}
		return nil
	})
	return top
}

// Bids returns the ordered bid history for a lot.
func (l *Ledger) Bids(lotID int64) []*models.Bid {
	var out []*models.Bid
	l.WithLot(lotID, func() error {
		ln := l.line(lotID)
		out = make([]*models.Bid, 0, len(ln.bids))
		for _, bid := range ln.bids {
			b := *bid
			out = append(out, &b)
		}
		return nil
	})
	return out
}
