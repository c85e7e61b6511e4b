package gavel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hammerlane/gavel/gavel/auction"
	"github.com/hammerlane/gavel/gavel/database"
	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/database/repositories"
	"golang.org/x/sync/errgroup"
)

// Engine is the composition root: registry, ledger, arbiter, proxy book,
// phase scheduler and queue scheduler wired together over one store and one
// notification sink.
type Engine struct {
	Cfg Config

	Registry  *auction.Registry
	Ledger    *auction.Ledger
	Arbiter   *auction.Arbiter
	ProxyBook *auction.ProxyBidBook
	Phases    *auction.PhaseScheduler
	Queue     *auction.QueueScheduler
	Notifier  *auction.Notifier

	store auction.Store

	LotRepo   repositories.LotRepository
	BidRepo   repositories.BidRepository
	ProxyRepo repositories.ProxyBidRepository
	QueueRepo repositories.QueueRepository
}

// New builds a fully wired engine. Pass a nil gate to admit every bidder.
func New(cfg Config, store auction.Store, gate auction.EligibilityGate, sink auction.NotificationSink) *Engine {
	if store == nil {
		store = auction.NewMemoryStore()
	}
	if sink == nil {
		sink = auction.LogSink{}
	}

	registry := auction.NewRegistry(cfg.Auction.HistorySize)
	notifier := auction.NewNotifier(sink, cfg.Auction.NotifyTimeout())
	ledger := auction.NewLedger(registry, store)
	proxies := auction.NewProxyBidBook(registry, store)
	phases := auction.NewPhaseScheduler(registry, ledger, store, notifier, cfg.Auction.PhaseConfig())
	arbiter := auction.NewArbiter(registry, ledger, phases, proxies, gate, notifier, cfg.Auction.EligibilityTimeout())
	queue := auction.NewQueueScheduler(registry, phases, store, notifier, cfg.Auction.AutoAdvance)

	phases.SetOpenHook(arbiter.OpenProxyRound)
	phases.SetTerminalHook(queue.OnLotFinished)

	return &Engine{
		Cfg:       cfg,
		Registry:  registry,
		Ledger:    ledger,
		Arbiter:   arbiter,
		ProxyBook: proxies,
		Phases:    phases,
		Queue:     queue,
		Notifier:  notifier,
		store:     store,
	}
}

// NewWithDB builds an engine persisted through the bun repositories.
func NewWithDB(cfg Config, db *database.DB, gate auction.EligibilityGate, sink auction.NotificationSink) *Engine {
	lotRepo := repositories.NewLotRepository(db.BunDB())
	bidRepo := repositories.NewBidRepository(db.BunDB())
	proxyRepo := repositories.NewProxyBidRepository(db.BunDB())
	queueRepo := repositories.NewQueueRepository(db.BunDB())

	e := New(cfg, database.NewStore(lotRepo, bidRepo, proxyRepo, queueRepo), gate, sink)
	e.LotRepo = lotRepo
	e.BidRepo = bidRepo
	e.ProxyRepo = proxyRepo
	e.QueueRepo = queueRepo
	return e
}

// Recover reloads non-terminal state from the repositories after a restart
// and re-arms the countdown of whichever lot was live.
func (e *Engine) Recover(ctx context.Context) error {
	if e.LotRepo == nil {
		return nil
	}

	lots, err := e.LotRepo.GetNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("failed to load lots: %w", err)
	}

	for _, lot := range lots {
		if err := e.Registry.Add(lot); err != nil {
			return fmt.Errorf("failed to restore lot %d: %w", lot.ID, err)
		}

		bids, err := e.BidRepo.GetByLot(ctx, lot.ID)
		if err != nil {
			return fmt.Errorf("failed to load bids for lot %d: %w", lot.ID, err)
		}
		e.Ledger.Seed(lot.ID, bids)
	}

	proxies, err := e.ProxyRepo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proxy bids: %w", err)
	}
	e.ProxyBook.Seed(proxies)

	entries, err := e.QueueRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load queue: %w", err)
	}
	e.Queue.Seed(entries)

	for _, lot := range lots {
		if lot.Phase == models.PhasePending {
			continue
		}
		if err := e.Phases.Resume(ctx, lot.ID); err != nil {
			slog.Error("Failed to resume lot countdown",
				slog.Int64("lot_id", lot.ID),
				slog.Any("error", err))
		}
	}

	slog.Info("Engine state recovered",
		slog.Int("lots", len(lots)),
		slog.Int("proxy_bids", len(proxies)),
		slog.Int("queued", len(entries)))
	return nil
}

// Run drives background delivery until ctx is cancelled, then stops the
// phase timers.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Notifier.Run(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		e.Phases.Shutdown()
		return nil
	})
	err := g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// AddLot registers a lot arriving from ingestion and persists it.
func (e *Engine) AddLot(ctx context.Context, lot *models.Lot) error {
	if lot.MinIncrement <= 0 {
		lot.MinIncrement = e.Cfg.Auction.MinIncrement
	}
	if lot.CreatedAt.IsZero() {
		lot.CreatedAt = time.Now()
	}
	if err := e.Registry.Add(lot); err != nil {
		return err
	}
	if err := e.store.SaveLot(ctx, lot); err != nil {
		slog.Error("Failed to persist new lot",
			slog.Int64("lot_id", lot.ID),
			slog.Any("error", err))
	}
	return nil
}

// The operation contracts exposed by the core.

func (e *Engine) SubmitBid(ctx context.Context, lotID int64, bidderID string, amount int64, submittedAt time.Time) (*models.Bid, error) {
	return e.Arbiter.SubmitBid(ctx, lotID, bidderID, amount, submittedAt)
}

func (e *Engine) PlaceProxyBid(ctx context.Context, lotID int64, bidderID string, maxAmount int64) error {
	return e.Arbiter.PlaceProxyBid(ctx, lotID, bidderID, maxAmount)
}

func (e *Engine) CancelProxyBid(ctx context.Context, lotID int64, bidderID string) error {
	return e.Arbiter.CancelProxyBid(ctx, lotID, bidderID)
}

func (e *Engine) EnqueueLot(ctx context.Context, lotID int64, scheduledTime *time.Time) error {
	return e.Queue.Enqueue(ctx, lotID, scheduledTime)
}

func (e *Engine) Withdraw(ctx context.Context, lotID int64) error {
	return e.Queue.Remove(ctx, lotID)
}

func (e *Engine) StartNextInQueue(ctx context.Context) (int64, error) {
	return e.Queue.StartNext(ctx)
}

func (e *Engine) Reorder(ctx context.Context, lotID int64, dir auction.Direction) error {
	return e.Queue.Reorder(ctx, lotID, dir)
}

func (e *Engine) ForceEnd(ctx context.Context, lotID int64, outcome models.LotPhase) error {
	return e.Phases.ForceEnd(ctx, lotID, outcome)
}
