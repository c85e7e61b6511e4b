package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/uptrace/bun"
)

type ProxyBidRepository interface {
	Upsert(ctx context.Context, proxy *models.ProxyBid) error
	GetActive(ctx context.Context) ([]*models.ProxyBid, error)
	GetActiveByLot(ctx context.Context, lotID int64) ([]*models.ProxyBid, error)
}

type proxyBidRepository struct {
	db *bun.DB
}

func NewProxyBidRepository(db *bun.DB) ProxyBidRepository {
	return &proxyBidRepository{db: db}
}

func (r *proxyBidRepository) Upsert(ctx context.Context, proxy *models.ProxyBid) error {
	proxy.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().
		Model(proxy).
		On("CONFLICT (lot_id, bidder_id) DO UPDATE").
		Set("max_amount = EXCLUDED.max_amount").
		Set("active = EXCLUDED.active").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert proxy bid: %w", err)
	}
	return nil
}

func (r *proxyBidRepository) GetActive(ctx context.Context) ([]*models.ProxyBid, error) {
	var proxies []*models.ProxyBid
	err := r.db.NewSelect().
		Model(&proxies).
		Where("active = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active proxy bids: %w", err)
	}
	return proxies, nil
}

func (r *proxyBidRepository) GetActiveByLot(ctx context.Context, lotID int64) ([]*models.ProxyBid, error) {
	var proxies []*models.ProxyBid
	err := r.db.NewSelect().
		Model(&proxies).
		Where("lot_id = ? AND active = ?", lotID, true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active proxy bids for lot: %w", err)
	}
	return proxies, nil
}
