package auction

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/logger"
)

// ProxyBidBook stores confidential per-bidder maximum bids and computes the
// automatic counter-bid for each cascade round. Ceilings never leave this
// package.
type ProxyBidBook struct {
	registry *Registry
	store    Store

	mu     sync.Mutex
	perLot map[int64]map[string]*models.ProxyBid
	nextID int64
}

func NewProxyBidBook(registry *Registry, store Store) *ProxyBidBook {
	if registry == nil || store == nil {
		panic("proxy bid book dependencies cannot be nil")
	}
	return &ProxyBidBook{
		registry: registry,
		store:    store,
		perLot:   make(map[int64]map[string]*models.ProxyBid),
	}
}

// Place upserts the single active maximum-bid record for (lot, bidder).
// The ceiling must strictly exceed the lot's current bid.
func (b *ProxyBidBook) Place(ctx context.Context, lotID int64, bidderID string, maxAmount int64) error {
	lot, err := b.registry.Snapshot(lotID)
	if err != nil {
		return err
	}
	if !lot.Phase.AcceptsProxy() {
		return ErrLotNotBiddable
	}
	if maxAmount <= lot.CurrentBid {
		return ErrMaxTooLow
	}

	b.mu.Lock()
	byBidder, ok := b.perLot[lotID]
	if !ok {
		byBidder = make(map[string]*models.ProxyBid)
		b.perLot[lotID] = byBidder
	}
	rec, ok := byBidder[bidderID]
	if ok {
		rec.MaxAmount = maxAmount
		rec.Active = true
		rec.UpdatedAt = time.Now()
	} else {
		b.nextID++
		rec = &models.ProxyBid{
			ID:        b.nextID,
			LotID:     lotID,
			BidderID:  bidderID,
			MaxAmount: maxAmount,
			Active:    true,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		byBidder[bidderID] = rec
	}
	snapshot := *rec
	b.mu.Unlock()

	if err := b.store.SaveProxyBid(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist proxy bid",
			slog.Int64("lot_id", lotID),
			slog.String("bidder_id", bidderID),
			slog.Any("error", err))
	}

	logger.LogAuction("Proxy bid placed",
		slog.Int64("lot_id", lotID),
		slog.String("bidder_id", bidderID))
	return nil
}

// Cancel deactivates the bidder's record. Cancelling an absent record is a
// no-op.
func (b *ProxyBidBook) Cancel(ctx context.Context, lotID int64, bidderID string) error {
	b.mu.Lock()
	byBidder := b.perLot[lotID]
	rec, ok := byBidder[bidderID]
	if !ok || !rec.Active {
		b.mu.Unlock()
		return nil
	}
	rec.Active = false
	rec.UpdatedAt = time.Now()
	snapshot := *rec
	b.mu.Unlock()

	if err := b.store.SaveProxyBid(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist proxy bid cancellation",
			slog.Int64("lot_id", lotID),
			slog.String("bidder_id", bidderID),
			slog.Any("error", err))
	}
	return nil
}

// Seed restores recovered proxy records after a restart.
func (b *ProxyBidBook) Seed(records []*models.ProxyBid) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range records {
		if !rec.Active {
			continue
		}
		byBidder, ok := b.perLot[rec.LotID]
		if !ok {
			byBidder = make(map[string]*models.ProxyBid)
			b.perLot[rec.LotID] = byBidder
		}
		c := *rec
		byBidder[rec.BidderID] = &c
		if rec.ID > b.nextID {
			b.nextID = rec.ID
		}
	}
}

// counter computes the next automatic bid after an accepted bid: among the
// active records whose holder is not the current top bidder, the strictly
// highest ceiling wins the round (earliest placement breaks ties) and bids
// min(ceiling, current + increment). A ceiling that cannot cover a full
// increment over the current price is exhausted; the arbiter would reject
// its bid as too low anyway.
func (b *ProxyBidBook) counter(lot *models.Lot) (bidderID string, amount int64, ok bool) {
	floor := lot.CurrentBid + lot.MinIncrement

	var best *models.ProxyBid
	for _, rec := range b.activeFor(lot.ID) {
		if rec.BidderID == lot.TopBidderID {
			continue
		}
		if rec.MaxAmount < floor {
			continue
		}
		if best == nil || rec.MaxAmount > best.MaxAmount ||
			(rec.MaxAmount == best.MaxAmount && rec.CreatedAt.Before(best.CreatedAt)) {
			best = rec
		}
	}
	if best == nil {
		return "", 0, false
	}

	amount = best.MaxAmount
	if floor < amount {
		amount = floor
	}
	return best.BidderID, amount, true
}

func (b *ProxyBidBook) activeFor(lotID int64) []*models.ProxyBid {
	b.mu.Lock()
	defer b.mu.Unlock()

	byBidder := b.perLot[lotID]
	out := make([]*models.ProxyBid, 0, len(byBidder))
	for _, rec := range byBidder {
		if rec.Active {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BidderID < out[j].BidderID })
	return out
}
