package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubmitBid_AcceptsFullIncrement(t *testing.T) {
	r := newRig(t, slowPhases(), nil)
	lot := r.addLot(t, 1, models.PhaseBidding, 500)
	lot.CurrentBid = 1000

	_, err := r.submit(t, 1, "bidder-a", 1050)
	require.ErrorIs(t, err, ErrBidTooLow)

	bid, err := r.submit(t, 1, "bidder-a", 1100)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), bid.Amount)
	assert.Equal(t, int64(1), bid.Sequence)
	assert.False(t, bid.Proxy)

	snap, err := r.registry.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), snap.CurrentBid)
	assert.Equal(t, 1, snap.BidCount)
	assert.Equal(t, "bidder-a", snap.TopBidderID)
}

func TestSubmitBid_FirstBidNeedsOneIncrement(t *testing.T) {
	r := newRig(t, slowPhases(), nil)
	r.addLot(t, 1, models.PhaseBidding, 5000)

	_, err := r.submit(t, 1, "bidder-a", 99)
	require.ErrorIs(t, err, ErrBidTooLow)

	bid, err := r.submit(t, 1, "bidder-a", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), bid.Amount)
}

func TestSubmitBid_UnknownLot(t *testing.T) {
	r := newRig(t, slowPhases(), nil)

	_, err := r.submit(t, 42, "bidder-a", 100)
	require.ErrorIs(t, err, ErrLotNotBiddable)
}

func TestSubmitBid_PhaseGatesBidding(t *testing.T) {
	r := newRig(t, slowPhases(), nil)
	r.addLot(t, 1, models.PhasePending, 500)
	r.addLot(t, 2, models.PhasePreBidding, 500)
	r.addLot(t, 3, models.PhaseSold, 500)

	for _, lotID := range []int64{1, 2, 3} {
		_, err := r.submit(t, lotID, "bidder-a", 100)
		require.ErrorIs(t, err, ErrLotNotBiddable, "lot %d", lotID)
	}

	for _, phase := range []models.LotPhase{models.PhaseGoingOnce, models.PhaseGoingTwice, models.PhaseFinalCall} {
		r2 := newRig(t, slowPhases(), nil)
		r2.addLot(t, 1, phase, 500)
		_, err := r2.submit(t, 1, "bidder-a", 100)
		require.NoError(t, err, "phase %s must accept bids", phase)
	}
}

func TestSubmitBid_IneligibleBeforeAmountCheck(t *testing.T) {
	denied := gateFunc(func(context.Context, string) (bool, error) { return false, nil })
	r := newRig(t, slowPhases(), denied)
	r.addLot(t, 1, models.PhaseBidding, 500)

	// The amount would fail validation too, but eligibility is checked first.
	_, err := r.submit(t, 1, "bidder-a", 1)
	require.ErrorIs(t, err, ErrIneligible)

	snap, err := r.registry.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.BidCount)
}

func TestSubmitBid_GateErrorFailsClosed(t *testing.T) {
	broken := gateFunc(func(context.Context, string) (bool, error) {
		return true, errors.New("verification service down")
	})
	r := newRig(t, slowPhases(), broken)
	r.addLot(t, 1, models.PhaseBidding, 500)

	_, err := r.submit(t, 1, "bidder-a", 100)
	require.ErrorIs(t, err, ErrIneligible)
}

func TestSubmitBid_GateTimeoutFailsClosed(t *testing.T) {
	stalled := gateFunc(func(ctx context.Context, _ string) (bool, error) {
		<-ctx.Done()
		return true, ctx.Err()
	})
	r := newRig(t, slowPhases(), stalled)
	r.arbiter.gateTimeout = 20 * time.Millisecond
	r.addLot(t, 1, models.PhaseBidding, 500)

	start := time.Now()
	_, err := r.submit(t, 1, "bidder-a", 100)
	require.ErrorIs(t, err, ErrIneligible)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubmitBid_OutbidWhileGated(t *testing.T) {
	release := make(chan struct{})
	gate := gateFunc(func(_ context.Context, bidderID string) (bool, error) {
		if bidderID == "slow" {
			<-release
		}
		return true, nil
	})
	r := newRig(t, slowPhases(), gate)
	r.addLot(t, 1, models.PhaseBidding, 500)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.arbiter.SubmitBid(context.Background(), 1, "slow", 100, time.Now())
		errCh <- err
	}()

	// The fast bidder takes the slot the slow one validated against.
	require.Eventually(t, func() bool {
		_, err := r.submit(t, 1, "fast", 100)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	close(release)
	require.ErrorIs(t, <-errCh, ErrOutbidImmediately)

	snap, err := r.registry.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, "fast", snap.TopBidderID)
	assert.Equal(t, 1, snap.BidCount)
}

func TestSubmitBid_ConcurrentSubmissionsStayMonotonic(t *testing.T) {
	r := newRig(t, slowPhases(), nil)
	r.addLot(t, 1, models.PhaseBidding, 500)

	const bidders = 32
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		amount := int64(100 * (i + 1))
		bidder := string(rune('a' + i%26))
		go func() {
			defer wg.Done()
			_, err := r.arbiter.SubmitBid(context.Background(), 1, bidder, amount, time.Now())
			if err != nil {
				assert.True(t,
					errors.Is(err, ErrBidTooLow) || errors.Is(err, ErrOutbidImmediately),
					"unexpected rejection: %v", err)
			}
		}()
	}
	wg.Wait()

	bids := r.ledger.Bids(1)
	require.NotEmpty(t, bids)

	snap, err := r.registry.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, len(bids), snap.BidCount)
	assert.Equal(t, bids[len(bids)-1].Amount, snap.CurrentBid)
	assert.Equal(t, bids[len(bids)-1].BidderID, snap.TopBidderID)

	for i, bid := range bids {
		assert.Equal(t, int64(i+1), bid.Sequence, "sequence gap at index %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, bid.Amount, bids[i-1].Amount+DefaultMinIncrement,
				"accepted bid %d did not raise by a full increment", i)
		}
	}
}

func TestSubmitBid_SnapshotsDuringContention(t *testing.T) {
	r := newRig(t, slowPhases(), nil)
	r.addLot(t, 1, models.PhaseBidding, 500)

	// Snapshots must observe bid acceptances atomically: CurrentBid,
	// BidCount and TopBidderID move together under the lot's serialization
	// point, never as a torn read.
	stop := make(chan struct{})
	readers := make(chan struct{})
	go func() {
		defer close(readers)
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap, err := r.registry.Snapshot(1)
			if err != nil {
				continue
			}
			if snap.BidCount == 0 {
				assert.Zero(t, snap.CurrentBid)
				assert.Empty(t, snap.TopBidderID)
			} else {
				assert.NotEmpty(t, snap.TopBidderID)
				assert.GreaterOrEqual(t, snap.CurrentBid, int64(DefaultMinIncrement))
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		amount := int64(100 * (i + 1))
		go func() {
			defer wg.Done()
			r.arbiter.SubmitBid(context.Background(), 1, "bidder", amount, time.Now())
		}()
	}
	wg.Wait()
	close(stop)
	<-readers

	snap, err := r.registry.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, len(r.ledger.Bids(1)), snap.BidCount)
}

func TestSubmitBid_ProxyCounterBidsSkipGate(t *testing.T) {
	gate := new(mockGate)
	gate.On("CanBid", mock.Anything, "challenger").Return(true, nil).Once()
	r := newRig(t, slowPhases(), gate)
	r.addLot(t, 1, models.PhaseBidding, 500)

	// The holder was gated at placement time, not per counter-bid.
	require.NoError(t, r.proxies.Place(context.Background(), 1, "holder", 2000))

	_, err := r.submit(t, 1, "challenger", 300)
	require.NoError(t, err)

	snap, err := r.registry.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, "holder", snap.TopBidderID)
	assert.Equal(t, int64(400), snap.CurrentBid)

	gate.AssertExpectations(t)
	gate.AssertNumberOfCalls(t, "CanBid", 1)
}

func TestSubmitBid_PublishesBidAccepted(t *testing.T) {
	r := newRig(t, slowPhases(), nil)
	r.addLot(t, 1, models.PhaseBidding, 500)

	_, err := r.submit(t, 1, "bidder-a", 100)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.sink.count(EventBidAccepted) == 1
	}, time.Second, 5*time.Millisecond)

	r.sink.mu.Lock()
	defer r.sink.mu.Unlock()
	for _, ev := range r.sink.events {
		if ev.Kind != EventBidAccepted {
			continue
		}
		require.NotNil(t, ev.Lot)
		require.NotNil(t, ev.Bid)
		assert.Equal(t, int64(100), ev.Lot.CurrentBid)
		assert.Equal(t, "bidder-a", ev.Bid.BidderID)
	}
}
