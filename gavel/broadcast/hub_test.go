package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hammerlane/gavel/gavel/auction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_FansOutToViewers(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	event := auction.Event{
		ID:   "ev-1",
		Kind: auction.EventBidAccepted,
		Time: time.Now(),
		Bid:  &auction.BidView{LotID: 7, BidderID: "bidder-a", Amount: 1100},
	}

	// The viewer registers asynchronously, so keep publishing until a frame
	// reaches it.
	pubCtx, stopPublishing := context.WithCancel(context.Background())
	defer stopPublishing()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pubCtx.Done():
				return
			case <-ticker.C:
				hub.Publish(pubCtx, event)
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got auction.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, "ev-1", got.ID)
	assert.Equal(t, auction.EventBidAccepted, got.Kind)
	require.NotNil(t, got.Bid)
	assert.Equal(t, int64(1100), got.Bid.Amount)
}

func TestHub_ShutdownReleasesViewers(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(runDone)
	}()

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Make sure the viewer is registered before shutting down.
	pubCtx, stopPublishing := context.WithCancel(context.Background())
	defer stopPublishing()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-pubCtx.Done():
				return
			case <-ticker.C:
				hub.Publish(pubCtx, auction.Event{Kind: auction.EventQueueChanged})
			}
		}
	}()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	stopPublishing()

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on cancellation")
	}

	// The hub closed the viewer on shutdown; its read side observes that
	// instead of the pump parking on a dead unregister channel.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)

	// Pumps and late registrations observe the shutdown signal.
	select {
	case <-hub.done:
	default:
		t.Fatal("hub done channel not closed after Run returned")
	}
}

func TestHub_PublishWithoutViewers(t *testing.T) {
	hub := NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	event := auction.Event{ID: "ev-1", Kind: auction.EventQueueChanged}
	require.NoError(t, hub.Publish(context.Background(), event))
}

func TestHub_PublishFullQueue(t *testing.T) {
	hub := NewHub()
	// No Run loop draining, so the buffer eventually fills.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var err error
	for i := 0; i < broadcastDepth+1; i++ {
		if err = hub.Publish(ctx, auction.Event{Kind: auction.EventQueueChanged}); err != nil {
			break
		}
	}
	assert.Error(t, err, "a stalled hub must reject rather than block forever")
}
