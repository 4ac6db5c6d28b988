package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/inventory/driver"
	"goflare.io/inventory/errs"
	"goflare.io/inventory/models"
)

var _ Repository = (*repository)(nil)

type Repository interface {
	GetItem(ctx context.Context, tx pgx.Tx, tenantID, itemID string) (*models.StockItem, error)
	GetItemByProduct(ctx context.Context, tx pgx.Tx, tenantID, productID string) (*models.StockItem, error)
	TryAdjust(ctx context.Context, tx pgx.Tx, params AdjustParams) (int64, error)
	CreateMovements(ctx context.Context, tx pgx.Tx, params []CreateMovementParams) error
	ListMovements(ctx context.Context, tx pgx.Tx, tenantID, itemID string, limit, offset uint64) ([]*models.StockMovement, error)
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

// querier lets every method run against the pool or an open transaction.
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

const stockItemColumns = `tenant_id, item_id, product_id, sku, available_quantity, reserved_quantity,
reorder_level, max_stock_level, status, concurrency_token, created_at, updated_at`

func scanStockItem(row pgx.Row) (*models.StockItem, error) {
	var item models.StockItem
	err := row.Scan(
		&item.TenantID, &item.ItemID, &item.ProductID, &item.SKU,
		&item.AvailableQuantity, &item.ReservedQuantity,
		&item.ReorderLevel, &item.MaxStockLevel, &item.Status,
		&item.ConcurrencyToken, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repository) GetItem(ctx context.Context, tx pgx.Tx, tenantID, itemID string) (*models.StockItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM stock_items WHERE tenant_id = $1 AND item_id = $2`, stockItemColumns)

	item, err := scanStockItem(r.q(tx).QueryRow(ctx, query, tenantID, itemID))
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			r.logger.Error("failed to get stock item",
				zap.String("tenant_id", tenantID), zap.String("item_id", itemID), zap.Error(err))
		}
		return nil, err
	}
	return item, nil
}

func (r *repository) GetItemByProduct(ctx context.Context, tx pgx.Tx, tenantID, productID string) (*models.StockItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM stock_items WHERE tenant_id = $1 AND product_id = $2`, stockItemColumns)

	item, err := scanStockItem(r.q(tx).QueryRow(ctx, query, tenantID, productID))
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			r.logger.Error("failed to get stock item by product",
				zap.String("tenant_id", tenantID), zap.String("product_id", productID), zap.Error(err))
		}
		return nil, err
	}
	return item, nil
}

// TryAdjust applies both deltas in one guarded write. The WHERE clause checks
// the concurrency token and rejects any delta that would drive a counter
// negative, so either the whole adjustment lands or nothing does.
func (r *repository) TryAdjust(ctx context.Context, tx pgx.Tx, params AdjustParams) (int64, error) {
	const query = `
UPDATE stock_items
SET available_quantity = available_quantity + $4,
    reserved_quantity  = reserved_quantity + $5,
    concurrency_token  = concurrency_token + 1,
    updated_at         = now()
WHERE tenant_id = $1 AND item_id = $2 AND concurrency_token = $3
  AND available_quantity + $4 >= 0
  AND reserved_quantity + $5 >= 0
RETURNING concurrency_token`

	var newToken int64
	err := r.q(tx).QueryRow(ctx, query,
		params.TenantID, params.ItemID, params.ExpectedToken,
		params.AvailableDelta, params.ReservedDelta,
	).Scan(&newToken)
	if err == nil {
		return newToken, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("failed to adjust stock item",
			zap.String("tenant_id", params.TenantID), zap.String("item_id", params.ItemID), zap.Error(err))
		return 0, err
	}

	// The guarded update matched nothing: re-read to tell the caller why.
	item, readErr := r.GetItem(ctx, tx, params.TenantID, params.ItemID)
	if readErr != nil {
		return 0, readErr
	}
	if item.ConcurrencyToken != params.ExpectedToken {
		return 0, errs.ErrConflict
	}
	if item.AvailableQuantity+params.AvailableDelta < 0 {
		return 0, &errs.InsufficientStockError{
			ProductID: item.ProductID,
			Requested: -params.AvailableDelta,
			Available: item.AvailableQuantity,
		}
	}
	// Reserved counter would go negative: a concurrent writer beat us to the
	// release, treat it like any other lost race.
	return 0, errs.ErrConflict
}

func (r *repository) CreateMovements(ctx context.Context, tx pgx.Tx, params []CreateMovementParams) error {
	const query = `
INSERT INTO stock_movements (tenant_id, item_id, quantity, type, reference_id, reference_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())`

	batch := &pgx.Batch{}
	for _, param := range params {
		batch.Queue(query,
			param.TenantID, param.ItemID, param.Quantity,
			param.Type, param.ReferenceID, param.ReferenceType)
	}

	batchResults := r.q(tx).SendBatch(ctx, batch)
	defer func() {
		if err := batchResults.Close(); err != nil {
			r.logger.Error("failed to close batch", zap.Error(err))
		}
	}()

	for range params {
		if _, err := batchResults.Exec(); err != nil {
			r.logger.Error("failed to create stock movement", zap.Error(err))
			return err
		}
	}

	return nil
}

func (r *repository) ListMovements(ctx context.Context, tx pgx.Tx, tenantID, itemID string, limit, offset uint64) ([]*models.StockMovement, error) {
	const query = `
SELECT id, tenant_id, item_id, quantity, type, reference_id, reference_type, created_at
FROM stock_movements
WHERE tenant_id = $1 AND item_id = $2
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

	rows, err := r.q(tx).Query(ctx, query, tenantID, itemID, limit, offset)
	if err != nil {
		r.logger.Error("failed to list stock movements", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var movements []*models.StockMovement
	for rows.Next() {
		var m models.StockMovement
		if err = rows.Scan(
			&m.ID, &m.TenantID, &m.ItemID, &m.Quantity,
			&m.Type, &m.ReferenceID, &m.ReferenceType, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		movements = append(movements, &m)
	}

	return movements, rows.Err()
}
