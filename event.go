package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"goflare.io/inventory/errs"
	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
)

// orderEventSubject is the subject space the order service publishes its
// lifecycle events on.
const orderEventSubject = "order.service.event.>"

// NatsConn is the subset of *nats.Conn the event manager uses.
type NatsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type EventHandler func(context.Context, *models.Event) error

type EventManager struct {
	conn     NatsConn
	handlers map[enum.EventType]EventHandler
	logger   *zap.Logger
}

func NewEventManager(conn NatsConn, logger *zap.Logger) *EventManager {
	return &EventManager{
		conn:     conn,
		handlers: make(map[enum.EventType]EventHandler),
		logger:   logger,
	}
}

func (em *EventManager) RegisterHandler(eventType enum.EventType, handler EventHandler) {
	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType enum.EventType) (EventHandler, bool) {
	handler, exists := em.handlers[eventType]
	return handler, exists
}

func (em *EventManager) SubscribeToEvents(wp *WorkerPool) error {
	_, err := em.conn.Subscribe(orderEventSubject, func(msg *nats.Msg) {
		var event models.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			em.logger.Error("Failed to unmarshal event", zap.Error(err))
			return
		}

		wp.Submit(context.Background(), &event)
	})

	return err
}

// Publish emits an inventory lifecycle event on its subject.
func (em *EventManager) Publish(event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return em.conn.Publish(subjectForEvent(event.Type), data)
}

func subjectForEvent(eventType enum.EventType) string {
	switch eventType {
	case enum.EventTypeReservationSucceeded:
		return "inventory.service.event.reserved"
	case enum.EventTypeReservationFailed:
		return "inventory.service.event.reservation_failed"
	case enum.EventTypeReservationReleased:
		return "inventory.service.event.released"
	}
	return "inventory.service.event.unknown"
}

func (s *service) registerEventHandlers() {
	eventHandlers := map[enum.EventType]EventHandler{
		enum.EventTypeOrderCreated:   s.handleOrderCreated,
		enum.EventTypeOrderCancelled: s.handleOrderCancelled,
	}

	for eventType, handler := range eventHandlers {
		s.eventManager.RegisterHandler(eventType, handler)
	}
}

// handleOrderCreated turns an order.created event into a reservation attempt.
// Business failures are final (the failure event is already emitted by
// Reserve); infrastructure errors propagate so the event is redelivered.
func (s *service) handleOrderCreated(ctx context.Context, event *models.Event) error {
	s.logger.Info("Handling order created event", zap.String("event_id", event.ID))

	var payload models.OrderCreatedPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		s.logger.Error("Failed to unmarshal order created payload", zap.Error(err))
		return err
	}

	items := make([]ReserveItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, ReserveItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		})
	}

	if _, err := s.Reserve(ctx, payload.TenantID, payload.OrderID, items); err != nil {
		if errors.Is(err, errs.ErrDuplicateOrder) {
			s.logger.Info("Order already reserved, skipping",
				zap.String("tenant_id", payload.TenantID), zap.String("order_id", payload.OrderID))
			return nil
		}
		return err
	}

	return nil
}

// handleOrderCancelled releases whatever is still held for the order.
func (s *service) handleOrderCancelled(ctx context.Context, event *models.Event) error {
	s.logger.Info("Handling order cancelled event", zap.String("event_id", event.ID))

	var payload models.OrderCancelledPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		s.logger.Error("Failed to unmarshal order cancelled payload", zap.Error(err))
		return err
	}

	reason := payload.Reason
	if reason == "" {
		reason = "Order cancelled"
	}

	if _, err := s.releaseOrder(ctx, payload.TenantID, payload.OrderID, reason, enum.ReservationStatusReleased); err != nil {
		return err
	}

	return nil
}

// ProcessEvent dedupes, dispatches and records one consumed order event. An
// event is marked processed only after its handler returns, so a handler
// failure leaves it eligible for redelivery.
func (s *service) ProcessEvent(ctx context.Context, event *models.Event) error {

	record, err := s.event.GetByID(ctx, event.ID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if record != nil && record.Processed {
		s.logger.Info("Event already processed", zap.String("event_id", event.ID))
		return nil
	}

	handler, exists := s.eventManager.GetHandler(event.Type)
	if !exists {
		return fmt.Errorf("no handler registered for event type: %s", event.Type)
	}

	if record == nil {
		if err = s.event.Create(ctx, &models.ProcessedEvent{
			ID:        event.ID,
			Type:      event.Type,
			Processed: false,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}); err != nil {
			s.logger.Error("Failed to create event record", zap.Error(err))
			return err
		}
	}

	if err = handler(ctx, event); err != nil {
		s.logger.Error("Failed to handle event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		return err
	}

	if err = s.event.MarkAsProcessed(ctx, event.ID); err != nil {
		s.logger.Error("Failed to mark event as processed", zap.String("event_id", event.ID), zap.Error(err))
	}

	s.logger.Info("Order event processed", zap.String("event_id", event.ID))

	return nil
}

// publishEvent wraps a payload in the event envelope and emits it. Publishing
// is best effort: a broker outage is logged, not surfaced to the caller.
func (s *service) publishEvent(eventType enum.EventType, tenantID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal event payload", zap.Error(err))
		return
	}

	event := &models.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TenantID:  tenantID,
		Data:      data,
		CreatedAt: time.Now(),
	}

	if err = s.eventManager.Publish(event); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
