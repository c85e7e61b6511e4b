package auction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/logger"
)

type Direction string

const (
	DirectionUp   Direction = "up"   // toward the head of the queue
	DirectionDown Direction = "down" // toward the tail
)

// QueueScheduler orders pending lots and enforces the single-live-lot
// invariant: StartNext promotes the head only while no lot occupies the
// live slot. All operations share one global critical section because the
// invariant spans every lot.
type QueueScheduler struct {
	registry *Registry
	phases   *PhaseScheduler
	store    Store
	notify   *Notifier

	autoAdvance bool

	mu      sync.Mutex
	entries []*models.QueueEntry
}

func NewQueueScheduler(registry *Registry, phases *PhaseScheduler, store Store, notify *Notifier, autoAdvance bool) *QueueScheduler {
	if registry == nil || phases == nil || store == nil || notify == nil {
		panic("queue scheduler dependencies cannot be nil")
	}
	return &QueueScheduler{
		registry:    registry,
		phases:      phases,
		store:       store,
		notify:      notify,
		autoAdvance: autoAdvance,
	}
}

// Enqueue appends a pending lot to the tail of the queue.
func (q *QueueScheduler) Enqueue(ctx context.Context, lotID int64, scheduledTime *time.Time) error {
	lot, err := q.registry.Snapshot(lotID)
	if err != nil {
		return err
	}
	if lot.Phase != models.PhasePending {
		return ErrLotNotBiddable
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.LotID == lotID {
			return ErrAlreadyQueued
		}
	}

	entry := &models.QueueEntry{
		LotID:         lotID,
		Position:      len(q.entries) + 1,
		ScheduledTime: scheduledTime,
		CreatedAt:     time.Now(),
	}
	q.entries = append(q.entries, entry)
	q.syncPositionsLocked(ctx)

	logger.LogAuction("Lot queued",
		slog.Int64("lot_id", lotID),
		slog.Int("position", entry.Position))
	return nil
}

// StartNext promotes the head of the queue into the live slot. Rejected
// with ErrAnotherLotLive while any lot is live and ErrQueueEmpty when there
// is nothing to promote.
func (q *QueueScheduler) StartNext(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startNextLocked(ctx)
}

func (q *QueueScheduler) startNextLocked(ctx context.Context) (int64, error) {
	if len(q.entries) == 0 {
		return 0, ErrQueueEmpty
	}
	if live := q.registry.LiveLot(); live != 0 {
		return 0, ErrAnotherLotLive
	}

	head := q.entries[0]
	if err := q.registry.claimLive(head.LotID); err != nil {
		return 0, err
	}
	if err := q.phases.Promote(ctx, head.LotID); err != nil {
		q.registry.releaseLive(head.LotID)
		return 0, err
	}

	q.entries = q.entries[1:]
	q.syncPositionsLocked(ctx)

	logger.LogAuction("Lot promoted from queue",
		slog.Int64("lot_id", head.LotID))
	return head.LotID, nil
}

// Reorder swaps the lot with its neighbour in the given direction.
func (q *QueueScheduler) Reorder(ctx context.Context, lotID int64, dir Direction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, e := range q.entries {
		if e.LotID == lotID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrLotNotFound
	}

	var other int
	switch dir {
	case DirectionUp:
		other = idx - 1
	case DirectionDown:
		other = idx + 1
	default:
		return ErrAtBoundary
	}
	if other < 0 || other >= len(q.entries) {
		return ErrAtBoundary
	}

	q.entries[idx], q.entries[other] = q.entries[other], q.entries[idx]
	q.syncPositionsLocked(ctx)
	return nil
}

// Remove withdraws a lot from the queue.
func (q *QueueScheduler) Remove(ctx context.Context, lotID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.removeLocked(ctx, lotID) {
		return ErrLotNotFound
	}
	return nil
}

// OnLotFinished drops a terminal lot from the queue and, when configured,
// rolls straight into the next one. The phase scheduler calls this outside
// any lot lock.
func (q *QueueScheduler) OnLotFinished(lotID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(ctx, lotID)

	if q.autoAdvance {
		if _, err := q.startNextLocked(ctx); err != nil &&
			!errors.Is(err, ErrQueueEmpty) && !errors.Is(err, ErrAnotherLotLive) {
			slog.Error("Auto-advance failed",
				slog.Any("error", err))
		}
	}
}

// Entries returns the current queue in order.
func (q *QueueScheduler) Entries() []*models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.QueueEntry, 0, len(q.entries))
	for _, e := range q.entries {
		c := *e
		out = append(out, &c)
	}
	return out
}

// Seed restores recovered queue entries in position order.
func (q *QueueScheduler) Seed(entries []*models.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = q.entries[:0]
	for _, e := range entries {
		c := *e
		q.entries = append(q.entries, &c)
	}
	q.renumberLocked()
}

func (q *QueueScheduler) removeLocked(ctx context.Context, lotID int64) bool {
	for i, e := range q.entries {
		if e.LotID == lotID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.registry.setQueuePosition(lotID, nil)
			q.syncPositionsLocked(ctx)
			return true
		}
	}
	return false
}

// syncPositionsLocked renumbers contiguously, mirrors positions onto the
// lot records, persists and announces the new order.
func (q *QueueScheduler) syncPositionsLocked(ctx context.Context) {
	q.renumberLocked()

	if err := q.store.SaveQueue(ctx, q.entries); err != nil {
		slog.Error("Failed to persist queue", slog.Any("error", err))
	}
	q.notify.QueueChanged(q.entries)
}

func (q *QueueScheduler) renumberLocked() {
	for i, e := range q.entries {
		e.Position = i + 1
		pos := e.Position
		q.registry.setQueuePosition(e.LotID, &pos)
	}
}
