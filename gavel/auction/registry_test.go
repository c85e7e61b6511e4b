package auction

import (
	"testing"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddAssignsIDAndCode(t *testing.T) {
	r := NewRegistry(4)

	lot := &models.Lot{AskingBid: 500}
	require.NoError(t, r.Add(lot))

	assert.Equal(t, int64(1), lot.ID)
	assert.Equal(t, models.PhasePending, lot.Phase)
	assert.Len(t, lot.LotCode, lotCodeLength)

	byCode, err := r.SnapshotByCode(lot.LotCode)
	require.NoError(t, err)
	assert.Equal(t, lot.ID, byCode.ID)

	require.Error(t, r.Add(&models.Lot{ID: 1}))
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry(4)
	require.NoError(t, r.Add(&models.Lot{ID: 1, AskingBid: 500}))

	snap, err := r.Snapshot(1)
	require.NoError(t, err)
	snap.CurrentBid = 9999

	again, err := r.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.CurrentBid)
}

func TestRegistry_LiveSlot(t *testing.T) {
	r := NewRegistry(4)
	require.NoError(t, r.Add(&models.Lot{ID: 1}))
	require.NoError(t, r.Add(&models.Lot{ID: 2}))

	require.NoError(t, r.claimLive(1))
	assert.Equal(t, int64(1), r.LiveLot())

	// Idempotent for the holder, exclusive against everyone else.
	require.NoError(t, r.claimLive(1))
	require.ErrorIs(t, r.claimLive(2), ErrAnotherLotLive)

	r.releaseLive(2)
	assert.Equal(t, int64(1), r.LiveLot())
	r.releaseLive(1)
	assert.Equal(t, int64(0), r.LiveLot())

	require.ErrorIs(t, r.claimLive(99), ErrLotNotFound)
}

func TestRegistry_RetireMovesToHistory(t *testing.T) {
	r := NewRegistry(4)
	lot := &models.Lot{ID: 1, Phase: models.PhaseBidding}
	require.NoError(t, r.Add(lot))
	require.NoError(t, r.claimLive(1))

	lot.Phase = models.PhaseSold
	r.retire(lot)

	assert.Equal(t, int64(0), r.LiveLot())
	assert.Nil(t, r.get(1))

	// Terminal lots stay readable through the snapshot path.
	snap, err := r.Snapshot(1)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSold, snap.Phase)

	_, err = r.Snapshot(42)
	require.ErrorIs(t, err, ErrLotNotFound)
}

func TestRegistry_Pending(t *testing.T) {
	r := NewRegistry(4)
	require.NoError(t, r.Add(&models.Lot{ID: 1}))
	require.NoError(t, r.Add(&models.Lot{ID: 2, Phase: models.PhaseBidding}))

	pending := r.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ID)
}
