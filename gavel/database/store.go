package database

import (
	"context"

	"github.com/hammerlane/gavel/gavel/auction"
	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/hammerlane/gavel/gavel/database/repositories"
)

// Store adapts the bun repositories to the engine's persistence interface.
// The in-memory engine state stays authoritative; callers log failures and
// carry on.
type Store struct {
	lots    repositories.LotRepository
	bids    repositories.BidRepository
	proxies repositories.ProxyBidRepository
	queue   repositories.QueueRepository
}

var _ auction.Store = (*Store)(nil)

func NewStore(lots repositories.LotRepository, bids repositories.BidRepository, proxies repositories.ProxyBidRepository, queue repositories.QueueRepository) *Store {
	return &Store{
		lots:    lots,
		bids:    bids,
		proxies: proxies,
		queue:   queue,
	}
}

func (s *Store) SaveLot(ctx context.Context, lot *models.Lot) error {
	return s.lots.Upsert(ctx, lot)
}

func (s *Store) SaveBid(ctx context.Context, bid *models.Bid) error {
	return s.bids.Insert(ctx, bid)
}

func (s *Store) SaveProxyBid(ctx context.Context, proxy *models.ProxyBid) error {
	return s.proxies.Upsert(ctx, proxy)
}

func (s *Store) SaveQueue(ctx context.Context, entries []*models.QueueEntry) error {
	return s.queue.ReplaceAll(ctx, entries)
}
