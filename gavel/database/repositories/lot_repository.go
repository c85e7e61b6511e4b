package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/uptrace/bun"
)

type LotRepository interface {
	DB() *bun.DB
	Upsert(ctx context.Context, lot *models.Lot) error
	GetByID(ctx context.Context, id int64) (*models.Lot, error)
	GetByLotCode(ctx context.Context, code string) (*models.Lot, error)
	GetNonTerminal(ctx context.Context) ([]*models.Lot, error)
}

type lotRepository struct {
	db *bun.DB
}

func NewLotRepository(db *bun.DB) LotRepository {
	return &lotRepository{db: db}
}

func (r *lotRepository) DB() *bun.DB {
	return r.db
}

func (r *lotRepository) Upsert(ctx context.Context, lot *models.Lot) error {
	lot.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().
		Model(lot).
		On("CONFLICT (id) DO UPDATE").
		Set("current_bid = EXCLUDED.current_bid").
		Set("bid_count = EXCLUDED.bid_count").
		Set("top_bidder_id = EXCLUDED.top_bidder_id").
		Set("phase = EXCLUDED.phase").
		Set("queue_position = EXCLUDED.queue_position").
		Set("start_time = EXCLUDED.start_time").
		Set("end_time = EXCLUDED.end_time").
		Set("last_bid_time = EXCLUDED.last_bid_time").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert lot: %w", err)
	}
	return nil
}

func (r *lotRepository) GetByID(ctx context.Context, id int64) (*models.Lot, error) {
	lot := new(models.Lot)
	err := r.db.NewSelect().
		Model(lot).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lot %d not found", id)
		}
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return lot, nil
}

func (r *lotRepository) GetByLotCode(ctx context.Context, code string) (*models.Lot, error) {
	lot := new(models.Lot)
	err := r.db.NewSelect().
		Model(lot).
		Where("lot_code = ?", code).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lot %s not found", code)
		}
		return nil, fmt.Errorf("failed to get lot: %w", err)
	}
	return lot, nil
}

func (r *lotRepository) GetNonTerminal(ctx context.Context) ([]*models.Lot, error) {
	var lots []*models.Lot
	err := r.db.NewSelect().
		Model(&lots).
		Where("phase NOT IN (?)", bun.In([]models.LotPhase{models.PhaseSold, models.PhaseUnsold})).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get non-terminal lots: %w", err)
	}
	return lots, nil
}
