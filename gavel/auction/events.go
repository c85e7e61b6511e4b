package auction

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/logger"
)

type EventKind string

const (
	EventBidAccepted  EventKind = "bid_accepted"
	EventPhaseChanged EventKind = "phase_changed"
	EventLotSold      EventKind = "lot_sold"
	EventLotUnsold    EventKind = "lot_unsold"
	EventQueueChanged EventKind = "queue_changed"
)

// LotView is the public snapshot of a lot carried on events. It never
// includes proxy ceilings.
type LotView struct {
	LotID         int64           `json:"lot_id"`
	LotCode       string          `json:"lot_code"`
	Phase         models.LotPhase `json:"phase"`
	AskingBid     int64           `json:"asking_bid"`
	CurrentBid    int64           `json:"current_bid"`
	BidCount      int             `json:"bid_count"`
	MinIncrement  int64           `json:"min_increment"`
	TopBidderID   string          `json:"top_bidder_id,omitempty"`
	QueuePosition *int            `json:"queue_position,omitempty"`
	EndTime       time.Time       `json:"end_time"`
}

type BidView struct {
	BidID    string    `json:"bid_id"`
	LotID    int64     `json:"lot_id"`
	BidderID string    `json:"bidder_id"`
	Amount   int64     `json:"amount"`
	Sequence int64     `json:"sequence"`
	Proxy    bool      `json:"proxy"`
	PlacedAt time.Time `json:"placed_at"`
}

type QueueView struct {
	LotID         int64      `json:"lot_id"`
	Position      int        `json:"position"`
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`
}

type Event struct {
	ID    string      `json:"id"`
	Kind  EventKind   `json:"kind"`
	Time  time.Time   `json:"time"`
	Lot   *LotView    `json:"lot,omitempty"`
	Bid   *BidView    `json:"bid,omitempty"`
	Queue []QueueView `json:"queue,omitempty"`
}

// NotificationSink receives state-change events for broadcast. Delivery
// failures must never affect authoritative state.
type NotificationSink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the log. The fallback when no broadcast
// transport is wired.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("type", "auction"),
		slog.String("kind", string(event.Kind)),
	}
	if event.Lot != nil {
		attrs = append(attrs,
			slog.Int64("lot_id", event.Lot.LotID),
			slog.String("phase", string(event.Lot.Phase)),
			slog.Int64("current_bid", event.Lot.CurrentBid))
	}
	if event.Bid != nil {
		attrs = append(attrs,
			slog.String("bidder_id", event.Bid.BidderID),
			slog.Int64("amount", event.Bid.Amount))
	}
	slog.Info("Auction event", attrs...)
	return nil
}

func viewOf(lot *models.Lot) *LotView {
	v := &LotView{
		LotID:        lot.ID,
		LotCode:      lot.LotCode,
		Phase:        lot.Phase,
		AskingBid:    lot.AskingBid,
		CurrentBid:   lot.CurrentBid,
		BidCount:     lot.BidCount,
		MinIncrement: lot.MinIncrement,
		TopBidderID:  lot.TopBidderID,
		EndTime:      lot.EndTime,
	}
	if lot.QueuePosition != nil {
		pos := *lot.QueuePosition
		v.QueuePosition = &pos
	}
	return v
}

func viewOfBid(bid *models.Bid) *BidView {
	return &BidView{
		BidID:    bid.ID,
		LotID:    bid.LotID,
		BidderID: bid.BidderID,
		Amount:   bid.Amount,
		Sequence: bid.Sequence,
		Proxy:    bid.Proxy,
		PlacedAt: bid.Timestamp,
	}
}

const notifyBuffer = 256

// Notifier decouples event publication from the serialization points.
// Events are queued on a bounded channel and delivered in order by a single
// pump goroutine; a full queue or a sink failure is a logged drop.
type Notifier struct {
	sink    NotificationSink
	timeout time.Duration
	queue   chan Event
}

func NewNotifier(sink NotificationSink, timeout time.Duration) *Notifier {
	return &Notifier{
		sink:    sink,
		timeout: timeout,
		queue:   make(chan Event, notifyBuffer),
	}
}

// Run delivers queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-n.queue:
			n.deliver(ev)
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.sink.Publish(ctx, ev); err != nil {
		logger.LogError("Failed to publish event", err,
			slog.String("kind", string(ev.Kind)),
			slog.String("event_id", ev.ID))
	}
}

func (n *Notifier) emit(kind EventKind, lot *LotView, bid *BidView, queue []QueueView) {
	ev := Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		Time:  time.Now(),
		Lot:   lot,
		Bid:   bid,
		Queue: queue,
	}

	select {
	case n.queue <- ev:
	default:
		slog.Warn("Event queue full, dropping event",
			slog.String("kind", string(kind)),
			slog.String("event_id", ev.ID))
	}
}

func (n *Notifier) BidAccepted(lot *models.Lot, bid *models.Bid) {
	n.emit(EventBidAccepted, viewOf(lot), viewOfBid(bid), nil)
}

func (n *Notifier) PhaseChanged(lot *models.Lot) {
	n.emit(EventPhaseChanged, viewOf(lot), nil, nil)
}

func (n *Notifier) LotFinished(lot *models.Lot) {
	kind := EventLotUnsold
	if lot.Phase == models.PhaseSold {
		kind = EventLotSold
	}
	n.emit(kind, viewOf(lot), nil, nil)
}

func (n *Notifier) QueueChanged(entries []*models.QueueEntry) {
	views := make([]QueueView, 0, len(entries))
	for _, e := range entries {
		views = append(views, QueueView{
			LotID:         e.LotID,
			Position:      e.Position,
			ScheduledTime: e.ScheduledTime,
		})
	}
	n.emit(EventQueueChanged, nil, nil, views)
}
