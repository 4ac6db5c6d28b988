package event

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/inventory/driver"
	"goflare.io/inventory/errs"
	"goflare.io/inventory/models"
)

var _ Repository = (*repository)(nil)

// Repository records consumed order events so redelivered events are not
// processed twice.
type Repository interface {
	Create(ctx context.Context, event *models.ProcessedEvent) error
	GetByID(ctx context.Context, id string) (*models.ProcessedEvent, error)
	MarkAsProcessed(ctx context.Context, id string) error
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) Create(ctx context.Context, event *models.ProcessedEvent) error {
	const query = `
INSERT INTO processed_events (id, type, processed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`

	_, err := r.conn.Exec(ctx, query,
		event.ID, event.Type, event.Processed, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create processed event", zap.String("event_id", event.ID), zap.Error(err))
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.ProcessedEvent, error) {
	const query = `SELECT id, type, processed, created_at, updated_at FROM processed_events WHERE id = $1`

	var event models.ProcessedEvent
	err := r.conn.QueryRow(ctx, query, id).Scan(
		&event.ID, &event.Type, &event.Processed, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkAsProcessed(ctx context.Context, id string) error {
	const query = `UPDATE processed_events SET processed = true, updated_at = $2 WHERE id = $1`

	_, err := r.conn.Exec(ctx, query, id, time.Now())
	return err
}
