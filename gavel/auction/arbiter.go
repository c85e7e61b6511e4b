package auction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/logger"
)

const DefaultMinIncrement = 100

// Arbiter validates and serializes bid acceptance. Exactly one submission
// wins each sequence slot; ties between equal amounts are broken by who
// reaches the lot's serialization point first, never by amount.
type Arbiter struct {
	registry *Registry
	ledger   *Ledger
	phases   *PhaseScheduler
	proxies  *ProxyBidBook
	gate     EligibilityGate
	notify   *Notifier

	gateTimeout time.Duration
}

func NewArbiter(registry *Registry, ledger *Ledger, phases *PhaseScheduler, proxies *ProxyBidBook, gate EligibilityGate, notify *Notifier, gateTimeout time.Duration) *Arbiter {
	if registry == nil || ledger == nil || phases == nil || proxies == nil || notify == nil {
		panic("arbiter dependencies cannot be nil")
	}
	if gate == nil {
		gate = OpenGate{}
	}
	if gateTimeout <= 0 {
		gateTimeout = 2 * time.Second
	}
	return &Arbiter{
		registry:    registry,
		ledger:      ledger,
		phases:      phases,
		proxies:     proxies,
		gate:        gate,
		notify:      notify,
		gateTimeout: gateTimeout,
	}
}

// SubmitBid runs the full validation pipeline, appends the bid and then
// drives any proxy cascade the acceptance triggers. The returned bid is the
// caller's own accepted bid; automatic counter-bids that follow are visible
// through events and the ledger.
func (a *Arbiter) SubmitBid(ctx context.Context, lotID int64, bidderID string, amount int64, submittedAt time.Time) (*models.Bid, error) {
	bid, err := a.submit(ctx, lotID, bidderID, amount, submittedAt, false)
	if err != nil {
		return nil, err
	}
	a.cascade(ctx, lotID)
	return bid, nil
}

// PlaceProxyBid records a confidential maximum bid. When the lot is already
// live the book immediately defends the new ceiling.
func (a *Arbiter) PlaceProxyBid(ctx context.Context, lotID int64, bidderID string, maxAmount int64) error {
	ok, err := a.eligible(ctx, bidderID)
	if err != nil || !ok {
		return ErrIneligible
	}
	if err := a.proxies.Place(ctx, lotID, bidderID, maxAmount); err != nil {
		return err
	}

	if lot, err := a.registry.Snapshot(lotID); err == nil && lot.Phase.Live() {
		a.cascade(ctx, lotID)
	}
	return nil
}

func (a *Arbiter) CancelProxyBid(ctx context.Context, lotID int64, bidderID string) error {
	return a.proxies.Cancel(ctx, lotID, bidderID)
}

// OpenProxyRound seeds the opening automatic bid when a lot enters Bidding
// with proxy instructions already on the book. The phase scheduler calls
// this outside the lot lock.
func (a *Arbiter) OpenProxyRound(lotID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.cascade(ctx, lotID)
}

// submit is the single entry point through which every bid, live or
// automatic, is accepted.
func (a *Arbiter) submit(ctx context.Context, lotID int64, bidderID string, amount int64, submittedAt time.Time, proxy bool) (*models.Bid, error) {
	lot, err := a.registry.Snapshot(lotID)
	if err != nil {
		return nil, ErrLotNotBiddable
	}
	if !lot.Phase.Live() {
		return nil, ErrLotNotBiddable
	}

	// The gate may be slow; it runs before the serialization point so it
	// never blocks other bidders on the same lot. Automatic counter-bids
	// were gated when the proxy instruction was placed.
	if !proxy {
		ok, err := a.eligible(ctx, bidderID)
		if err != nil || !ok {
			return nil, ErrIneligible
		}
	}

	if amount < lot.CurrentBid+lot.MinIncrement {
		return nil, ErrBidTooLow
	}

	var bid *models.Bid
	var accepted *models.Lot
	err = a.ledger.WithLot(lotID, func() error {
		cur := a.registry.get(lotID)
		if cur == nil || !cur.Phase.Live() {
			return ErrLotNotBiddable
		}
		// A racing submission may have moved the price since the
		// pre-lock check.
		if amount < cur.CurrentBid+cur.MinIncrement {
			return ErrOutbidImmediately
		}

		bid = a.ledger.appendLocked(ctx, cur, bidderID, amount, submittedAt, proxy)
		a.phases.OnBidAcceptedLocked(ctx, cur)
		accepted = cur.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.notify.BidAccepted(accepted, bid)
	logger.LogAuction("Bid accepted",
		slog.Int64("lot_id", lotID),
		slog.String("bidder_id", bidderID),
		slog.Int64("amount", amount),
		slog.Int64("sequence", bid.Sequence),
		slog.Bool("proxy", proxy))
	return bid, nil
}

// cascade submits automatic counter-bids until no active proxy ceiling
// exceeds the current price by a full increment. Each round re-reads the
// authoritative lot state, so a concurrent live bid simply restarts the
// round; every accepted bid raises the price by at least one increment,
// which bounds the loop by the finite set of ceilings.
func (a *Arbiter) cascade(ctx context.Context, lotID int64) {
	for {
		lot, err := a.registry.Snapshot(lotID)
		if err != nil || !lot.Phase.Live() {
			return
		}

		bidderID, amount, ok := a.proxies.counter(lot)
		if !ok {
			return
		}

		_, err = a.submit(ctx, lotID, bidderID, amount, time.Now(), true)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrOutbidImmediately), errors.Is(err, ErrBidTooLow):
			// A live bid raced ahead; recompute against the fresh price.
			continue
		case errors.Is(err, ErrLotNotBiddable):
			return
		default:
			slog.Error("Proxy cascade stopped",
				slog.Int64("lot_id", lotID),
				slog.Any("error", err))
			return
		}
	}
}

func (a *Arbiter) eligible(ctx context.Context, bidderID string) (bool, error) {
	gateCtx, cancel := context.WithTimeout(ctx, a.gateTimeout)
	defer cancel()

	ok, err := a.gate.CanBid(gateCtx, bidderID)
	if err != nil {
		// Fail closed: a slow or broken verification subsystem must not
		// admit bids.
		slog.Warn("Eligibility check failed, treating as ineligible",
			slog.String("bidder_id", bidderID),
			slog.Any("error", err))
		return false, nil
	}
	return ok, nil
}
