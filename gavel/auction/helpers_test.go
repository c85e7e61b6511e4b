package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockGate records exactly which bidders the arbiter consults the external
// verification subsystem about.
type mockGate struct {
	mock.Mock
}

func (m *mockGate) CanBid(ctx context.Context, bidderID string) (bool, error) {
	args := m.Called(ctx, bidderID)
	return args.Bool(0), args.Error(1)
}

// gateFunc adapts a function to the EligibilityGate interface.
type gateFunc func(ctx context.Context, bidderID string) (bool, error)

func (f gateFunc) CanBid(ctx context.Context, bidderID string) (bool, error) {
	return f(ctx, bidderID)
}

// recordingSink captures published events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (s *recordingSink) count(kind EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type rig struct {
	registry *Registry
	ledger   *Ledger
	arbiter  *Arbiter
	proxies  *ProxyBidBook
	phases   *PhaseScheduler
	queue    *QueueScheduler
	store    *MemoryStore
	sink     *recordingSink
	notifier *Notifier
}

func fastPhases() PhaseConfig {
	return PhaseConfig{
		PreBidding:       20 * time.Millisecond,
		InactivityWindow: 40 * time.Millisecond,
		GoingOnce:        25 * time.Millisecond,
		GoingTwice:       25 * time.Millisecond,
		FinalCall:        15 * time.Millisecond,
	}
}

// slowPhases keeps timers far enough out that they never fire during a test.
func slowPhases() PhaseConfig {
	return PhaseConfig{
		PreBidding:       time.Hour,
		InactivityWindow: time.Hour,
		GoingOnce:        time.Hour,
		GoingTwice:       time.Hour,
		FinalCall:        time.Hour,
	}
}

func newRig(t *testing.T, cfg PhaseConfig, gate EligibilityGate) *rig {
	t.Helper()

	store := NewMemoryStore()
	sink := &recordingSink{}
	registry := NewRegistry(16)
	notifier := NewNotifier(sink, time.Second)
	ledger := NewLedger(registry, store)
	proxies := NewProxyBidBook(registry, store)
	phases := NewPhaseScheduler(registry, ledger, store, notifier, cfg)
	arbiter := NewArbiter(registry, ledger, phases, proxies, gate, notifier, time.Second)
	queue := NewQueueScheduler(registry, phases, store, notifier, false)

	phases.SetOpenHook(arbiter.OpenProxyRound)
	phases.SetTerminalHook(queue.OnLotFinished)

	ctx, cancel := context.WithCancel(context.Background())
	go notifier.Run(ctx)
	t.Cleanup(func() {
		cancel()
		phases.Shutdown()
	})

	return &rig{
		registry: registry,
		ledger:   ledger,
		arbiter:  arbiter,
		proxies:  proxies,
		phases:   phases,
		queue:    queue,
		store:    store,
		sink:     sink,
		notifier: notifier,
	}
}

// addLot registers a lot in the given phase. A live phase claims the live
// slot through the registry, matching what promotion does.
func (r *rig) addLot(t *testing.T, id int64, phase models.LotPhase, askingBid int64) *models.Lot {
	t.Helper()
	lot := &models.Lot{
		ID:           id,
		AskingBid:    askingBid,
		MinIncrement: DefaultMinIncrement,
		Phase:        phase,
	}
	require.NoError(t, r.registry.Add(lot))
	return lot
}

func (r *rig) submit(t *testing.T, lotID int64, bidderID string, amount int64) (*models.Bid, error) {
	t.Helper()
	return r.arbiter.SubmitBid(context.Background(), lotID, bidderID, amount, time.Now())
}

func (r *rig) phaseOf(t *testing.T, lotID int64) models.LotPhase {
	t.Helper()
	lot, err := r.registry.Snapshot(lotID)
	require.NoError(t, err)
	return lot.Phase
}
