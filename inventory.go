package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"goflare.io/inventory/errs"
	"goflare.io/inventory/event"
	"goflare.io/inventory/ledger"
	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
	"goflare.io/inventory/reservation"
)

const (
	// defaultReservationTTL is how long an unconfirmed reservation holds
	// stock before the sweeper releases it.
	defaultReservationTTL = 30 * time.Minute

	// stockAdjustRetries bounds the optimistic retry loop around ledger
	// adjustments. Exhaustion surfaces as a transient conflict error.
	stockAdjustRetries = 3

	defaultWorkerCount = 10
	expiredBatchSize   = 100

	expiryReason = "Expired - automatic cleanup"
)

// ReserveItem is one requested line of a reservation.
type ReserveItem struct {
	ProductID string
	SKU       string
	Quantity  int64
}

type Service interface {
	Reserve(ctx context.Context, tenantID, orderID string, items []ReserveItem) (*models.ReservationResult, error)
	Confirm(ctx context.Context, tenantID, reservationID string) error
	Release(ctx context.Context, tenantID, reservationID, reason string) error
	GetReservation(ctx context.Context, tenantID, reservationID string) (*models.ReservationResult, error)
	ReleaseExpired(ctx context.Context, asOf time.Time) (int, error)
	ProcessEvent(ctx context.Context, event *models.Event) error
}

// TransactionManager is the subset of driver.TransactionManager the engine
// uses.
type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type service struct {
	ledger      ledger.Repository
	reservation reservation.Repository
	event       event.Repository

	txManager TransactionManager
	results   ResultCache

	eventManager *EventManager
	workerPool   *WorkerPool

	reservationTTL time.Duration
	logger         *zap.Logger
}

func NewService(
	ledgerRepo ledger.Repository, reservationRepo reservation.Repository, eventRepo event.Repository,
	txManager TransactionManager, results ResultCache,
	natsConn NatsConn,
	logger *zap.Logger) Service {
	s := &service{
		ledger:         ledgerRepo,
		reservation:    reservationRepo,
		event:          eventRepo,
		txManager:      txManager,
		results:        results,
		reservationTTL: defaultReservationTTL,
		logger:         logger,
	}
	s.eventManager = NewEventManager(natsConn, logger)
	s.workerPool = NewWorkerPool(defaultWorkerCount, s, logger)
	s.registerEventHandlers()

	// 訂閱訂單事件
	if err := s.eventManager.SubscribeToEvents(s.workerPool); err != nil {
		logger.Error("Failed to subscribe to order events", zap.Error(err))
	}

	return s
}

// Reserve atomically holds stock for every line of an order, or for none of
// them. The order ID is the idempotency key: a second reserve for the same
// order is rejected outright.
func (s *service) Reserve(ctx context.Context, tenantID, orderID string, items []ReserveItem) (*models.ReservationResult, error) {
	if tenantID == "" || orderID == "" {
		return nil, fmt.Errorf("tenant id and order id are required")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("quantity must be positive for product %s", item.ProductID)
		}
	}

	exists, err := s.reservation.ExistsForOrder(ctx, nil, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check reservations for order %s: %w", orderID, err)
	}
	if exists {
		return nil, errs.ErrDuplicateOrder
	}

	// 1. 先檢查整批商品的庫存，再進行任何扣減
	type reserveLine struct {
		item  ReserveItem
		stock *models.StockItem
	}
	lines := make([]reserveLine, 0, len(items))
	var failedItems []models.FailedItemResult

	for _, item := range items {
		stockItem, err := s.ledger.GetItemByProduct(ctx, nil, tenantID, item.ProductID)
		if errors.Is(err, errs.ErrNotFound) {
			failedItems = append(failedItems, models.FailedItemResult{
				ProductID: item.ProductID,
				SKU:       item.SKU,
				Requested: item.Quantity,
				Reason:    "Product not found",
			})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read stock for product %s: %w", item.ProductID, err)
		}
		if !stockItem.CanFulfill(item.Quantity) {
			failedItems = append(failedItems, insufficientItem(item, stockItem.AvailableQuantity))
			continue
		}
		lines = append(lines, reserveLine{item: item, stock: stockItem})
	}

	if len(failedItems) > 0 {
		return s.reservationFailed(ctx, tenantID, orderID, failedItems), nil
	}

	// 2. 逐項扣減庫存；任何不可恢復的失敗都要回補已扣減的項目
	now := time.Now()
	reservations := make([]*models.Reservation, 0, len(lines))
	applied := make([]appliedAdjust, 0, len(lines))

	for _, line := range lines {
		if _, err = s.adjustWithRetry(ctx, nil, tenantID, line.stock.ItemID,
			-line.item.Quantity, line.item.Quantity, line.stock.ConcurrencyToken); err != nil {

			s.compensateAdjustments(ctx, tenantID, applied)

			var ise *errs.InsufficientStockError
			if errors.As(err, &ise) {
				// a concurrent order consumed the stock between check and adjust
				failedItems = []models.FailedItemResult{insufficientItem(line.item, ise.Available)}
				return s.reservationFailed(ctx, tenantID, orderID, failedItems), nil
			}
			return nil, fmt.Errorf("failed to adjust stock for product %s: %w", line.item.ProductID, err)
		}

		applied = append(applied, appliedAdjust{itemID: line.stock.ItemID, quantity: line.item.Quantity})
		reservations = append(reservations, &models.Reservation{
			TenantID:         tenantID,
			ReservationID:    uuid.NewString(),
			OrderID:          orderID,
			ItemID:           line.stock.ItemID,
			ProductID:        line.item.ProductID,
			SKU:              line.item.SKU,
			ReservedQuantity: line.item.Quantity,
			Status:           enum.ReservationStatusActive,
			CreatedAt:        now,
			ExpiresAt:        now.Add(s.reservationTTL),
		})
	}

	// 3. 批次寫入預留與庫存變動記錄
	if err = s.txManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.reservation.InsertBatch(ctx, tx, reservations); err != nil {
			return err
		}

		moveParams := make([]ledger.CreateMovementParams, 0, len(reservations))
		for _, res := range reservations {
			moveParams = append(moveParams, ledger.CreateMovementParams{
				TenantID:      tenantID,
				ItemID:        res.ItemID,
				Quantity:      res.ReservedQuantity,
				Type:          enum.StockMovementTypeReserve,
				ReferenceID:   res.ReservationID,
				ReferenceType: enum.StockMovementReferenceTypeReservation,
			})
		}
		return s.ledger.CreateMovements(ctx, tx, moveParams)
	}); err != nil {
		s.compensateAdjustments(ctx, tenantID, applied)
		if errors.Is(err, errs.ErrDuplicateOrder) {
			// a concurrent reserve for the same order won the insert
			return nil, errs.ErrDuplicateOrder
		}
		return nil, fmt.Errorf("failed to persist reservations: %w", err)
	}

	result := &models.ReservationResult{
		TenantID:      tenantID,
		OrderID:       orderID,
		ReservationID: reservations[0].ReservationID,
		Success:       true,
		Items:         itemResults(reservations),
		CreatedAt:     now,
	}
	s.cacheResult(ctx, result, reservations)

	s.publishEvent(enum.EventTypeReservationSucceeded, tenantID, &models.ReservationSucceededPayload{
		TenantID:      tenantID,
		OrderID:       orderID,
		ReservationID: result.ReservationID,
		Items:         result.Items,
	})

	s.logger.Info("Reservation created",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.String("reservation_id", result.ReservationID),
		zap.Int("items", len(result.Items)))

	return result, nil
}

// Confirm consumes the stock held by every active row of the reservation's
// order. Rows already in a terminal state are skipped, so confirm is
// idempotent per row.
func (s *service) Confirm(ctx context.Context, tenantID, reservationID string) error {
	handle, err := s.reservation.FindByReservationID(ctx, nil, tenantID, reservationID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("failed to resolve reservation %s: %w", reservationID, err)
	}

	switch handle.Status {
	case enum.ReservationStatusReleased, enum.ReservationStatusExpired:
		return errs.ErrInvalidState
	}

	rows, err := s.reservation.FindActiveByOrder(ctx, nil, tenantID, handle.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load reservations for order %s: %w", handle.OrderID, err)
	}
	if len(rows) == 0 {
		if handle.Status == enum.ReservationStatusConfirmed {
			// already applied
			return nil
		}
		return errs.ErrNotFound
	}

	now := time.Now()
	for _, row := range rows {
		if row.Status != enum.ReservationStatusActive {
			continue
		}
		// available stays where reserve left it; only the hold is consumed
		if err = s.transitionRow(ctx, row,
			func(r *models.Reservation) { r.MarkConfirmed(now) },
			enum.StockMovementTypeOut, 0, -row.ReservedQuantity); err != nil {
			return fmt.Errorf("failed to confirm reservation %s: %w", row.ReservationID, err)
		}
	}

	s.refreshResult(ctx, tenantID, handle.OrderID)

	s.logger.Info("Reservation confirmed",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", handle.OrderID),
		zap.String("reservation_id", reservationID))

	return nil
}

// Release returns the held stock of every active row of the reservation's
// order to the sellable pool.
func (s *service) Release(ctx context.Context, tenantID, reservationID, reason string) error {
	handle, err := s.reservation.FindByReservationID(ctx, nil, tenantID, reservationID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("failed to resolve reservation %s: %w", reservationID, err)
	}
	if handle.Status == enum.ReservationStatusConfirmed {
		// consumed stock cannot be returned through the release path
		return errs.ErrInvalidState
	}

	_, err = s.releaseOrder(ctx, tenantID, handle.OrderID, reason, enum.ReservationStatusReleased)
	return err
}

// GetReservation returns the last known aggregate result without side
// effects, consulting the result cache before the store.
func (s *service) GetReservation(ctx context.Context, tenantID, reservationID string) (*models.ReservationResult, error) {
	result, err := s.results.Get(ctx, tenantID, reservationID)
	if err != nil {
		s.logger.Warn("Failed to read result cache", zap.Error(err))
	}
	if result != nil {
		return result, nil
	}

	handle, err := s.reservation.FindByReservationID(ctx, nil, tenantID, reservationID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve reservation %s: %w", reservationID, err)
	}

	rows, err := s.reservation.FindByOrder(ctx, nil, tenantID, handle.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservations for order %s: %w", handle.OrderID, err)
	}

	result = &models.ReservationResult{
		TenantID:      tenantID,
		OrderID:       handle.OrderID,
		ReservationID: reservationID,
		Success:       true,
		Items:         itemResults(rows),
		CreatedAt:     handle.CreatedAt,
	}

	if err = s.results.Put(ctx, tenantID, reservationID, result); err != nil {
		s.logger.Warn("Failed to cache reservation result", zap.Error(err))
	}

	return result, nil
}

// ReleaseExpired releases every order whose active reservations passed their
// TTL at asOf, through the same path as an explicit release. A failure on one
// order never blocks the others. It returns the number of orders released.
func (s *service) ReleaseExpired(ctx context.Context, asOf time.Time) (int, error) {
	expired, err := s.reservation.FindExpired(ctx, nil, "", asOf, expiredBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired reservations: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	type orderKey struct {
		tenantID string
		orderID  string
	}
	seen := make(map[orderKey]bool)
	keys := make([]orderKey, 0, len(expired))
	for _, res := range expired {
		key := orderKey{tenantID: res.TenantID, orderID: res.OrderID}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	released := 0
	for _, key := range keys {
		if _, err = s.releaseOrder(ctx, key.tenantID, key.orderID, expiryReason, enum.ReservationStatusExpired); err != nil {
			s.logger.Error("Failed to release expired reservations",
				zap.String("tenant_id", key.tenantID),
				zap.String("order_id", key.orderID),
				zap.Error(err))
			continue
		}
		released++
	}

	return released, nil
}

// releaseOrder is the single release path shared by explicit release, order
// cancellation and the expiry sweep; only the terminal status label and the
// reason differ.
func (s *service) releaseOrder(ctx context.Context, tenantID, orderID, reason string, terminal enum.ReservationStatus) (int, error) {
	rows, err := s.reservation.FindActiveByOrder(ctx, nil, tenantID, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to load reservations for order %s: %w", orderID, err)
	}
	if len(rows) == 0 {
		// nothing held: releasing twice is a no-op
		return 0, nil
	}

	now := time.Now()
	released := 0
	for _, row := range rows {
		if row.Status != enum.ReservationStatusActive {
			continue
		}
		if err = s.transitionRow(ctx, row,
			func(r *models.Reservation) { r.MarkReleased(terminal, now) },
			enum.StockMovementTypeRelease, row.ReservedQuantity, -row.ReservedQuantity); err != nil {
			return released, fmt.Errorf("failed to release reservation %s: %w", row.ReservationID, err)
		}
		released++
	}

	s.refreshResult(ctx, tenantID, orderID)

	s.publishEvent(enum.EventTypeReservationReleased, tenantID, &models.ReservationReleasedPayload{
		TenantID:      tenantID,
		OrderID:       orderID,
		ReservationID: rows[0].ReservationID,
		Reason:        reason,
	})

	s.logger.Info("Reservation released",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.String("reason", reason))

	return released, nil
}

// transitionRow applies the row's terminal transition and its stock deltas in
// a single transaction. The token-checked save guarantees exactly one actor
// applies the deltas even when an explicit release races the sweeper: the
// loser's save conflicts, the transaction aborts and it applies nothing. An
// adjust failure aborts the whole transaction too, so the row stays ACTIVE and
// the operation can be retried or picked up by the sweep.
func (s *service) transitionRow(ctx context.Context, row *models.Reservation,
	mark func(*models.Reservation), movementType enum.StockMovementType,
	availableDelta, reservedDelta int64) error {

	mark(row)

	lostRace := false
	err := s.txManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.reservation.Save(ctx, tx, row); err != nil {
			if errors.Is(err, errs.ErrConflict) {
				lostRace = true
			}
			return err
		}

		item, err := s.ledger.GetItem(ctx, tx, row.TenantID, row.ItemID)
		if err != nil {
			return fmt.Errorf("failed to read stock for item %s: %w", row.ItemID, err)
		}
		if _, err = s.adjustWithRetry(ctx, tx, row.TenantID, row.ItemID,
			availableDelta, reservedDelta, item.ConcurrencyToken); err != nil {
			return fmt.Errorf("stock adjustment for reservation %s failed: %w", row.ReservationID, err)
		}

		return s.ledger.CreateMovements(ctx, tx, []ledger.CreateMovementParams{{
			TenantID:      row.TenantID,
			ItemID:        row.ItemID,
			Quantity:      row.ReservedQuantity,
			Type:          movementType,
			ReferenceID:   row.ReservationID,
			ReferenceType: enum.StockMovementReferenceTypeReservation,
		}})
	})
	if lostRace {
		s.logger.Info("Reservation transition lost race, skipping",
			zap.String("tenant_id", row.TenantID),
			zap.String("reservation_id", row.ReservationID))
		return nil
	}
	return err
}

// adjustWithRetry wraps ledger.TryAdjust with a bounded optimistic retry
// loop, re-reading the item for a fresh token between attempts.
func (s *service) adjustWithRetry(ctx context.Context, tx pgx.Tx, tenantID, itemID string,
	availableDelta, reservedDelta, expectedToken int64) (int64, error) {

	var lastErr error
	for attempt := 0; attempt < stockAdjustRetries; attempt++ {
		newToken, err := s.ledger.TryAdjust(ctx, tx, ledger.AdjustParams{
			TenantID:       tenantID,
			ItemID:         itemID,
			AvailableDelta: availableDelta,
			ReservedDelta:  reservedDelta,
			ExpectedToken:  expectedToken,
		})
		if err == nil {
			return newToken, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return 0, err
		}
		lastErr = err

		item, readErr := s.ledger.GetItem(ctx, tx, tenantID, itemID)
		if readErr != nil {
			return 0, readErr
		}
		expectedToken = item.ConcurrencyToken
	}
	return 0, fmt.Errorf("stock adjustment failed after %d attempts: %w", stockAdjustRetries, lastErr)
}

type appliedAdjust struct {
	itemID   string
	quantity int64
}

// compensateAdjustments reverses the reserve deltas already applied within a
// failed batch so the ledger never stays half-reserved.
func (s *service) compensateAdjustments(ctx context.Context, tenantID string, applied []appliedAdjust) {
	for _, adj := range applied {
		item, err := s.ledger.GetItem(ctx, nil, tenantID, adj.itemID)
		if err != nil {
			s.logger.Error("Failed to read stock for compensation",
				zap.String("tenant_id", tenantID), zap.String("item_id", adj.itemID), zap.Error(err))
			continue
		}
		if _, err = s.adjustWithRetry(ctx, nil, tenantID, adj.itemID,
			adj.quantity, -adj.quantity, item.ConcurrencyToken); err != nil {
			s.logger.Error("Failed to compensate stock adjustment",
				zap.String("tenant_id", tenantID), zap.String("item_id", adj.itemID), zap.Error(err))
		}
	}
}

func (s *service) reservationFailed(ctx context.Context, tenantID, orderID string, failedItems []models.FailedItemResult) *models.ReservationResult {
	result := &models.ReservationResult{
		TenantID:    tenantID,
		OrderID:     orderID,
		Success:     false,
		FailedItems: failedItems,
		CreatedAt:   time.Now(),
	}

	s.publishEvent(enum.EventTypeReservationFailed, tenantID, &models.ReservationFailedPayload{
		TenantID:    tenantID,
		OrderID:     orderID,
		FailedItems: failedItems,
	})

	s.logger.Info("Reservation failed",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", orderID),
		zap.Int("failed_items", len(failedItems)))

	return result
}

func (s *service) cacheResult(ctx context.Context, result *models.ReservationResult, rows []*models.Reservation) {
	for _, row := range rows {
		if err := s.results.Put(ctx, result.TenantID, row.ReservationID, result); err != nil {
			s.logger.Warn("Failed to cache reservation result",
				zap.String("reservation_id", row.ReservationID), zap.Error(err))
		}
	}
}

// refreshResult rebuilds the cached aggregate from the store after a status
// transition. Best effort: the cache is never the system of record.
func (s *service) refreshResult(ctx context.Context, tenantID, orderID string) {
	rows, err := s.reservation.FindByOrder(ctx, nil, tenantID, orderID)
	if err != nil || len(rows) == 0 {
		if err != nil {
			s.logger.Warn("Failed to reload reservations for cache refresh", zap.Error(err))
		}
		return
	}

	result := &models.ReservationResult{
		TenantID:      tenantID,
		OrderID:       orderID,
		ReservationID: rows[0].ReservationID,
		Success:       true,
		Items:         itemResults(rows),
		CreatedAt:     rows[0].CreatedAt,
	}
	s.cacheResult(ctx, result, rows)
}

func itemResults(rows []*models.Reservation) []models.ReservationItemResult {
	results := make([]models.ReservationItemResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.ReservationItemResult{
			ReservationID: row.ReservationID,
			ProductID:     row.ProductID,
			SKU:           row.SKU,
			Quantity:      row.ReservedQuantity,
		})
	}
	return results
}

func insufficientItem(item ReserveItem, available int64) models.FailedItemResult {
	return models.FailedItemResult{
		ProductID: item.ProductID,
		SKU:       item.SKU,
		Requested: item.Quantity,
		Available: available,
		Reason: fmt.Sprintf("Insufficient stock for product %s. Requested: %d, Available: %d",
			item.ProductID, item.Quantity, available),
	}
}
