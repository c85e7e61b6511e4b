package repositories

import (
	"context"
	"fmt"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/uptrace/bun"
)

type BidRepository interface {
	Insert(ctx context.Context, bid *models.Bid) error
	GetByLot(ctx context.Context, lotID int64) ([]*models.Bid, error)
	GetByBidder(ctx context.Context, bidderID string) ([]*models.Bid, error)
}

type bidRepository struct {
	db *bun.DB
}

func NewBidRepository(db *bun.DB) BidRepository {
	return &bidRepository{db: db}
}

func (r *bidRepository) Insert(ctx context.Context, bid *models.Bid) error {
	_, err := r.db.NewInsert().Model(bid).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (r *bidRepository) GetByLot(ctx context.Context, lotID int64) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("lot_id = ?", lotID).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids for lot: %w", err)
	}
	return bids, nil
}

func (r *bidRepository) GetByBidder(ctx context.Context, bidderID string) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := r.db.NewSelect().
		Model(&bids).
		Where("bidder_id = ?", bidderID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bids for bidder: %w", err)
	}
	return bids, nil
}
