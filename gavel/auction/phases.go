package auction

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/logger"
)

// PhaseConfig holds the countdown durations. Final call is the shortest in
// a sane configuration but nothing enforces that.
type PhaseConfig struct {
	PreBidding       time.Duration
	InactivityWindow time.Duration
	GoingOnce        time.Duration
	GoingTwice       time.Duration
	FinalCall        time.Duration
}

func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		PreBidding:       30 * time.Second,
		InactivityWindow: 60 * time.Second,
		GoingOnce:        15 * time.Second,
		GoingTwice:       10 * time.Second,
		FinalCall:        5 * time.Second,
	}
}

type lotTimer struct {
	gen   uint64
	timer *time.Timer
}

// PhaseScheduler drives each live lot through the timed countdown. It owns
// every timer; a timer action runs inside the lot's serialization point and
// carries a generation token, so a tick delayed past a reset is a no-op.
type PhaseScheduler struct {
	registry *Registry
	ledger   *Ledger
	store    Store
	notify   *Notifier
	cfg      PhaseConfig

	timers sync.Map // lotID -> *lotTimer
	gens   sync.Map // lotID -> uint64

	// onTerminal runs outside the lot lock after a lot reaches Sold or
	// Unsold; the queue scheduler hooks in here.
	onTerminal func(lotID int64)
	// onOpen runs outside the lot lock when a lot enters Bidding; the
	// arbiter seeds the opening proxy round through it.
	onOpen func(lotID int64)

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

func NewPhaseScheduler(registry *Registry, ledger *Ledger, store Store, notify *Notifier, cfg PhaseConfig) *PhaseScheduler {
	if registry == nil || ledger == nil || store == nil || notify == nil {
		panic("phase scheduler dependencies cannot be nil")
	}
	return &PhaseScheduler{
		registry: registry,
		ledger:   ledger,
		store:    store,
		notify:   notify,
		cfg:      cfg,
		shutdown: make(chan struct{}),
	}
}

func (s *PhaseScheduler) SetTerminalHook(fn func(lotID int64)) { s.onTerminal = fn }
func (s *PhaseScheduler) SetOpenHook(fn func(lotID int64))     { s.onOpen = fn }

// Promote moves a pending lot into the live slot. The queue scheduler calls
// this under its global critical section after claiming the slot.
func (s *PhaseScheduler) Promote(ctx context.Context, lotID int64) error {
	var after []func()
	err := s.ledger.WithLot(lotID, func() error {
		lot := s.registry.get(lotID)
		if lot == nil {
			return ErrLotNotFound
		}
		if lot.Phase != models.PhasePending {
			return ErrLotNotBiddable
		}

		lot.StartTime = time.Now()
		if s.cfg.PreBidding > 0 {
			s.setPhaseLocked(ctx, lot, models.PhasePreBidding)
			s.scheduleLocked(lot.ID, s.cfg.PreBidding)
		} else {
			after = s.openLocked(ctx, lot)
		}
		return nil
	})
	runAll(after)
	return err
}

// OnBidAcceptedLocked reacts to an accepted bid: any warning phase falls
// back to Bidding and the inactivity window restarts. The arbiter calls
// this while still holding the lot's serialization point, so the timer reset
// is atomic with the bid acceptance.
func (s *PhaseScheduler) OnBidAcceptedLocked(ctx context.Context, lot *models.Lot) {
	switch lot.Phase {
	case models.PhaseGoingOnce, models.PhaseGoingTwice, models.PhaseFinalCall:
		s.setPhaseLocked(ctx, lot, models.PhaseBidding)
	}
	s.scheduleLocked(lot.ID, s.biddingWindow(lot))
}

// ForceEnd transitions any non-terminal lot straight to the given outcome,
// bypassing remaining timers.
func (s *PhaseScheduler) ForceEnd(ctx context.Context, lotID int64, outcome models.LotPhase) error {
	if outcome != models.PhaseSold && outcome != models.PhaseUnsold {
		return ErrInvalidOutcome
	}

	var after []func()
	err := s.ledger.WithLot(lotID, func() error {
		lot := s.registry.get(lotID)
		if lot == nil {
			return ErrLotNotFound
		}
		if lot.Phase.Terminal() {
			return ErrLotNotFound
		}
		after = s.finishLocked(ctx, lot, outcome)
		return nil
	})
	runAll(after)
	return err
}

// Resume re-arms the countdown for a lot recovered in a non-pending,
// non-terminal phase after a restart.
func (s *PhaseScheduler) Resume(ctx context.Context, lotID int64) error {
	var after []func()
	err := s.ledger.WithLot(lotID, func() error {
		lot := s.registry.get(lotID)
		if lot == nil {
			return ErrLotNotFound
		}
		switch lot.Phase {
		case models.PhasePreBidding:
			s.scheduleLocked(lot.ID, s.cfg.PreBidding)
		case models.PhaseBidding:
			s.scheduleLocked(lot.ID, s.biddingWindow(lot))
		case models.PhaseGoingOnce:
			s.scheduleLocked(lot.ID, s.cfg.GoingOnce)
		case models.PhaseGoingTwice:
			s.scheduleLocked(lot.ID, s.cfg.GoingTwice)
		case models.PhaseFinalCall:
			s.scheduleLocked(lot.ID, s.cfg.FinalCall)
		}
		return nil
	})
	runAll(after)
	return err
}

// Shutdown stops every pending timer. In-flight transitions finish.
func (s *PhaseScheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.timers.Range(func(_, value any) bool {
			if lt, ok := value.(*lotTimer); ok {
				lt.timer.Stop()
			}
			return true
		})
		logger.LogSystem("Phase scheduler shutdown completed")
	})
}

// biddingWindow is the inactivity window clamped by the lot's end time,
// whichever comes first.
func (s *PhaseScheduler) biddingWindow(lot *models.Lot) time.Duration {
	d := s.cfg.InactivityWindow
	if !lot.EndTime.IsZero() {
		if until := time.Until(lot.EndTime); until < d {
			d = until
		}
	}
	if d < 0 {
		d = 0
	}
	return d
}

// scheduleLocked arms the lot's timer, invalidating any outstanding tick.
func (s *PhaseScheduler) scheduleLocked(lotID int64, d time.Duration) {
	gen := s.bumpGen(lotID)

	if prev, ok := s.timers.Load(lotID); ok {
		prev.(*lotTimer).timer.Stop()
	}

	timer := time.AfterFunc(d, func() {
		select {
		case <-s.shutdown:
			return
		default:
		}
		s.fire(lotID, gen)
	})
	s.timers.Store(lotID, &lotTimer{gen: gen, timer: timer})
}

func (s *PhaseScheduler) cancelLocked(lotID int64) {
	s.bumpGen(lotID)
	if prev, ok := s.timers.LoadAndDelete(lotID); ok {
		prev.(*lotTimer).timer.Stop()
	}
}

func (s *PhaseScheduler) bumpGen(lotID int64) uint64 {
	for {
		cur, _ := s.gens.LoadOrStore(lotID, uint64(0))
		next := cur.(uint64) + 1
		if s.gens.CompareAndSwap(lotID, cur, next) {
			return next
		}
	}
}

func (s *PhaseScheduler) currentGen(lotID int64) uint64 {
	if v, ok := s.gens.Load(lotID); ok {
		return v.(uint64)
	}
	return 0
}

// fire handles a timer tick. The generation check inside the lot lock makes
// a stale or delayed tick harmless.
func (s *PhaseScheduler) fire(lotID int64, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var after []func()
	err := s.ledger.WithLot(lotID, func() error {
		if gen != s.currentGen(lotID) {
			return nil
		}
		lot := s.registry.get(lotID)
		if lot == nil || lot.Phase.Terminal() {
			return nil
		}
		after = s.advanceLocked(ctx, lot)
		return nil
	})
	runAll(after)
	if err != nil {
		slog.Error("Phase timer handling failed",
			slog.Int64("lot_id", lotID),
			slog.Any("error", err))
	}
}

// advanceLocked performs the timeout transition for the lot's current phase.
func (s *PhaseScheduler) advanceLocked(ctx context.Context, lot *models.Lot) []func() {
	switch lot.Phase {
	case models.PhasePreBidding:
		return s.openLocked(ctx, lot)
	case models.PhaseBidding:
		s.setPhaseLocked(ctx, lot, models.PhaseGoingOnce)
		s.scheduleLocked(lot.ID, s.cfg.GoingOnce)
	case models.PhaseGoingOnce:
		s.setPhaseLocked(ctx, lot, models.PhaseGoingTwice)
		s.scheduleLocked(lot.ID, s.cfg.GoingTwice)
	case models.PhaseGoingTwice:
		s.setPhaseLocked(ctx, lot, models.PhaseFinalCall)
		s.scheduleLocked(lot.ID, s.cfg.FinalCall)
	case models.PhaseFinalCall:
		outcome := models.PhaseUnsold
		if lot.BidCount > 0 && lot.CurrentBid >= lot.AskingBid {
			outcome = models.PhaseSold
		}
		return s.finishLocked(ctx, lot, outcome)
	}
	return nil
}

// openLocked moves a lot into open bidding and starts the inactivity window.
func (s *PhaseScheduler) openLocked(ctx context.Context, lot *models.Lot) []func() {
	s.setPhaseLocked(ctx, lot, models.PhaseBidding)
	s.scheduleLocked(lot.ID, s.biddingWindow(lot))

	if s.onOpen == nil {
		return nil
	}
	lotID := lot.ID
	return []func(){func() { s.onOpen(lotID) }}
}

// finishLocked terminates the lot, retires it to history and returns the
// work that must run after the lot lock is released.
func (s *PhaseScheduler) finishLocked(ctx context.Context, lot *models.Lot, outcome models.LotPhase) []func() {
	s.cancelLocked(lot.ID)

	lot.Phase = outcome
	lot.QueuePosition = nil
	lot.UpdatedAt = time.Now()
	if err := s.store.SaveLot(ctx, lot); err != nil {
		slog.Error("Failed to persist terminal lot",
			slog.Int64("lot_id", lot.ID),
			slog.Any("error", err))
	}

	final := lot.Clone()
	s.registry.retire(final)
	s.notify.LotFinished(final)

	logger.LogAuction("Lot finished",
		slog.Int64("lot_id", final.ID),
		slog.String("lot_code", final.LotCode),
		slog.String("outcome", string(outcome)),
		slog.String("winner_id", final.TopBidderID),
		slog.Int64("final_price", final.CurrentBid))

	if s.onTerminal == nil {
		return nil
	}
	lotID := final.ID
	return []func(){func() { s.onTerminal(lotID) }}
}

func (s *PhaseScheduler) setPhaseLocked(ctx context.Context, lot *models.Lot, phase models.LotPhase) {
	lot.Phase = phase
	lot.UpdatedAt = time.Now()
	if err := s.store.SaveLot(ctx, lot); err != nil {
		slog.Error("Failed to persist phase change",
			slog.Int64("lot_id", lot.ID),
			slog.String("phase", string(phase)),
			slog.Any("error", err))
	}
	s.notify.PhaseChanged(lot)
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
