package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"goflare.io/ember"

	"goflare.io/inventory/driver"
	"goflare.io/inventory/errs"
	"goflare.io/inventory/models"
)

var _ Repository = (*repository)(nil)

// cacheTTL bounds how long a cached reservation row may serve reads.
const cacheTTL = 5 * time.Minute

type Repository interface {
	ExistsForOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID string) (bool, error)
	InsertBatch(ctx context.Context, tx pgx.Tx, reservations []*models.Reservation) error
	FindActiveByOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID string) ([]*models.Reservation, error)
	FindByOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID string) ([]*models.Reservation, error)
	FindByReservationID(ctx context.Context, tx pgx.Tx, tenantID, reservationID string) (*models.Reservation, error)
	FindExpired(ctx context.Context, tx pgx.Tx, tenantID string, asOf time.Time, limit uint64) ([]*models.Reservation, error)
	Save(ctx context.Context, tx pgx.Tx, reservation *models.Reservation) error
}

type repository struct {
	conn   driver.PostgresPool
	cache  *ember.Ember
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, cache *ember.Ember, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		cache:  cache,
		logger: logger,
	}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *repository) q(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.conn
}

const reservationColumns = `tenant_id, reservation_id, order_id, item_id, product_id, sku,
reserved_quantity, status, created_at, expires_at, confirmed_at, released_at, concurrency_token`

func cacheKey(tenantID, reservationID string) string {
	return fmt.Sprintf("reservation:%s:%s", tenantID, reservationID)
}

func (r *repository) ExistsForOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM reservations WHERE tenant_id = $1 AND order_id = $2)`

	var exists bool
	if err := r.q(tx).QueryRow(ctx, query, tenantID, orderID).Scan(&exists); err != nil {
		r.logger.Error("failed to check reservations for order",
			zap.String("tenant_id", tenantID), zap.String("order_id", orderID), zap.Error(err))
		return false, err
	}
	return exists, nil
}

func (r *repository) InsertBatch(ctx context.Context, tx pgx.Tx, reservations []*models.Reservation) error {
	const query = `
INSERT INTO reservations (tenant_id, reservation_id, order_id, item_id, product_id, sku,
reserved_quantity, status, created_at, expires_at, concurrency_token)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	batch := &pgx.Batch{}
	for _, res := range reservations {
		batch.Queue(query,
			res.TenantID, res.ReservationID, res.OrderID, res.ItemID, res.ProductID, res.SKU,
			res.ReservedQuantity, res.Status, res.CreatedAt, res.ExpiresAt, res.ConcurrencyToken)
	}

	batchResults := r.q(tx).SendBatch(ctx, batch)
	defer func() {
		if err := batchResults.Close(); err != nil {
			r.logger.Error("failed to close batch", zap.Error(err))
		}
	}()

	// the unique index on (tenant_id, order_id, product_id) closes the race
	// between the exists check and the insert: the loser's insert violates it
	for range reservations {
		if _, err := batchResults.Exec(); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return errs.ErrDuplicateOrder
			}
			r.logger.Error("failed to insert reservation batch", zap.Error(err))
			return err
		}
	}

	for _, res := range reservations {
		if err := r.cache.Set(ctx, cacheKey(res.TenantID, res.ReservationID), res, cacheTTL); err != nil {
			r.logger.Warn("failed to cache reservation", zap.Error(err))
		}
	}

	return nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID string) ([]*models.Reservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE tenant_id = $1 AND order_id = $2 AND status = 'active'`,
		reservationColumns)

	return r.queryReservations(ctx, tx, query, tenantID, orderID)
}

func (r *repository) FindByOrder(ctx context.Context, tx pgx.Tx, tenantID, orderID string) ([]*models.Reservation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE tenant_id = $1 AND order_id = $2 ORDER BY created_at`,
		reservationColumns)

	return r.queryReservations(ctx, tx, query, tenantID, orderID)
}

func (r *repository) FindByReservationID(ctx context.Context, tx pgx.Tx, tenantID, reservationID string) (*models.Reservation, error) {
	key := cacheKey(tenantID, reservationID)
	var cached models.Reservation

	found, err := r.cache.Get(ctx, key, &cached)
	if err != nil {
		r.logger.Warn("failed to get reservation from cache", zap.Error(err))
	}
	if found {
		return &cached, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM reservations WHERE tenant_id = $1 AND reservation_id = $2`,
		reservationColumns)

	res, err := scanReservation(r.q(tx).QueryRow(ctx, query, tenantID, reservationID))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		r.logger.Error("failed to get reservation",
			zap.String("tenant_id", tenantID), zap.String("reservation_id", reservationID), zap.Error(err))
		return nil, err
	}

	if err = r.cache.Set(ctx, key, res, cacheTTL); err != nil {
		r.logger.Warn("failed to cache reservation", zap.Error(err))
	}

	return res, nil
}

func (r *repository) FindExpired(ctx context.Context, tx pgx.Tx, tenantID string, asOf time.Time, limit uint64) ([]*models.Reservation, error) {
	if tenantID != "" {
		query := fmt.Sprintf(`
SELECT %s FROM reservations
WHERE tenant_id = $1 AND status = 'active' AND expires_at < $2
ORDER BY expires_at
LIMIT $3`, reservationColumns)
		return r.queryReservations(ctx, tx, query, tenantID, asOf, limit)
	}

	query := fmt.Sprintf(`
SELECT %s FROM reservations
WHERE status = 'active' AND expires_at < $1
ORDER BY expires_at
LIMIT $2`, reservationColumns)
	return r.queryReservations(ctx, tx, query, asOf, limit)
}

// Save persists a status transition. The stored concurrency token must match
// the one the row was read with; stale writers get ErrConflict.
func (r *repository) Save(ctx context.Context, tx pgx.Tx, reservation *models.Reservation) error {
	const query = `
UPDATE reservations
SET status = $4, confirmed_at = $5, released_at = $6, concurrency_token = concurrency_token + 1
WHERE tenant_id = $1 AND reservation_id = $2 AND concurrency_token = $3
RETURNING concurrency_token`

	err := r.q(tx).QueryRow(ctx, query,
		reservation.TenantID, reservation.ReservationID, reservation.ConcurrencyToken,
		reservation.Status, reservation.ConfirmedAt, reservation.ReleasedAt,
	).Scan(&reservation.ConcurrencyToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrConflict
		}
		r.logger.Error("failed to save reservation",
			zap.String("tenant_id", reservation.TenantID),
			zap.String("reservation_id", reservation.ReservationID), zap.Error(err))
		return err
	}

	if err = r.cache.Set(ctx, cacheKey(reservation.TenantID, reservation.ReservationID), reservation, cacheTTL); err != nil {
		r.logger.Warn("failed to cache reservation", zap.Error(err))
	}

	return nil
}

func (r *repository) queryReservations(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]*models.Reservation, error) {
	rows, err := r.q(tx).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to query reservations", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		var res models.Reservation
		if err = rows.Scan(
			&res.TenantID, &res.ReservationID, &res.OrderID, &res.ItemID, &res.ProductID, &res.SKU,
			&res.ReservedQuantity, &res.Status, &res.CreatedAt, &res.ExpiresAt,
			&res.ConfirmedAt, &res.ReleasedAt, &res.ConcurrencyToken,
		); err != nil {
			return nil, err
		}
		reservations = append(reservations, &res)
	}

	return reservations, rows.Err()
}

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var res models.Reservation
	err := row.Scan(
		&res.TenantID, &res.ReservationID, &res.OrderID, &res.ItemID, &res.ProductID, &res.SKU,
		&res.ReservedQuantity, &res.Status, &res.CreatedAt, &res.ExpiresAt,
		&res.ConfirmedAt, &res.ReleasedAt, &res.ConcurrencyToken,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}
