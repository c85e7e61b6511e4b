package repositories

import (
	"context"
	"fmt"

	"github.com/hammerlane/gavel/gavel/database/models"
	"github.com/uptrace/bun"
)

type QueueRepository interface {
	ReplaceAll(ctx context.Context, entries []*models.QueueEntry) error
	GetAll(ctx context.Context) ([]*models.QueueEntry, error)
}

type queueRepository struct {
	db *bun.DB
}

func NewQueueRepository(db *bun.DB) QueueRepository {
	return &queueRepository{db: db}
}

// ReplaceAll rewrites the whole queue in one transaction. The queue is
// small and position renumbering touches most rows anyway.
func (r *queueRepository) ReplaceAll(ctx context.Context, entries []*models.QueueEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.NewDelete().
		Model((*models.QueueEntry)(nil)).
		Where("1 = 1").
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	if len(entries) > 0 {
		if _, err := tx.NewInsert().Model(&entries).Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert queue entries: %w", err)
		}
	}

	return tx.Commit()
}

func (r *queueRepository) GetAll(ctx context.Context) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	err := r.db.NewSelect().
		Model(&entries).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entries: %w", err)
	}
	return entries, nil
}
