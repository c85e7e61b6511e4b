package auction

import (
	"context"
	"sync"

	"github.com/hammerlane/gavel/gavel/database/models"
)

// Store persists engine state. The in-memory registry and ledger stay
// authoritative: a failed write is logged by the caller and never rolls back
// an accepted bid or phase transition.
type Store interface {
	SaveLot(ctx context.Context, lot *models.Lot) error
	SaveBid(ctx context.Context, bid *models.Bid) error
	SaveProxyBid(ctx context.Context, proxy *models.ProxyBid) error
	SaveQueue(ctx context.Context, entries []*models.QueueEntry) error
}

// MemoryStore keeps everything in process. It backs tests and DB-less runs.
type MemoryStore struct {
	mu      sync.Mutex
	lots    map[int64]*models.Lot
	bids    []*models.Bid
	proxies map[int64]map[string]*models.ProxyBid
	queue   []*models.QueueEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots:    make(map[int64]*models.Lot),
		proxies: make(map[int64]map[string]*models.ProxyBid),
	}
}

func (s *MemoryStore) SaveLot(_ context.Context, lot *models.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[lot.ID] = lot.Clone()
	return nil
}

func (s *MemoryStore) SaveBid(_ context.Context, bid *models.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := *bid
	s.bids = append(s.bids, &b)
	return nil
}

func (s *MemoryStore) SaveProxyBid(_ context.Context, proxy *models.ProxyBid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byBidder, ok := s.proxies[proxy.LotID]
	if !ok {
		byBidder = make(map[string]*models.ProxyBid)
		s.proxies[proxy.LotID] = byBidder
	}
	p := *proxy
	byBidder[proxy.BidderID] = &p
	return nil
}

func (s *MemoryStore) SaveQueue(_ context.Context, entries []*models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = s.queue[:0]
	for _, e := range entries {
		c := *e
		s.queue = append(s.queue, &c)
	}
	return nil
}

// Bids returns every bid persisted so far, in arrival order.
func (s *MemoryStore) Bids() []*models.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Bid, len(s.bids))
	copy(out, s.bids)
	return out
}
