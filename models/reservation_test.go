package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"goflare.io/inventory/models"
	"goflare.io/inventory/models/enum"
)

func TestAllowChangeStatus_FromActive(t *testing.T) {
	res := &models.Reservation{Status: enum.ReservationStatusActive}

	assert.True(t, res.AllowChangeStatus(enum.ReservationStatusConfirmed))
	assert.True(t, res.AllowChangeStatus(enum.ReservationStatusReleased))
	assert.True(t, res.AllowChangeStatus(enum.ReservationStatusExpired))
	assert.False(t, res.AllowChangeStatus(enum.ReservationStatusActive))
}

func TestAllowChangeStatus_TerminalIsImmutable(t *testing.T) {
	for _, status := range []enum.ReservationStatus{
		enum.ReservationStatusConfirmed,
		enum.ReservationStatusReleased,
		enum.ReservationStatusExpired,
	} {
		res := &models.Reservation{Status: status}
		assert.True(t, res.IsTerminal())
		assert.False(t, res.AllowChangeStatus(enum.ReservationStatusReleased), "from %s", status)
		assert.False(t, res.AllowChangeStatus(enum.ReservationStatusConfirmed), "from %s", status)
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()

	active := &models.Reservation{Status: enum.ReservationStatusActive, ExpiresAt: now.Add(-time.Minute)}
	assert.True(t, active.IsExpired(now))

	fresh := &models.Reservation{Status: enum.ReservationStatusActive, ExpiresAt: now.Add(time.Minute)}
	assert.False(t, fresh.IsExpired(now))

	// terminal rows never count as expired
	confirmed := &models.Reservation{Status: enum.ReservationStatusConfirmed, ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, confirmed.IsExpired(now))
}

func TestMarkConfirmed(t *testing.T) {
	res := &models.Reservation{Status: enum.ReservationStatusActive}
	at := time.Now()

	res.MarkConfirmed(at)

	assert.Equal(t, enum.ReservationStatusConfirmed, res.Status)
	assert.Equal(t, at, *res.ConfirmedAt)
	assert.Nil(t, res.ReleasedAt)
}

func TestMarkReleased(t *testing.T) {
	res := &models.Reservation{Status: enum.ReservationStatusActive}
	at := time.Now()

	res.MarkReleased(enum.ReservationStatusExpired, at)

	assert.Equal(t, enum.ReservationStatusExpired, res.Status)
	assert.Equal(t, at, *res.ReleasedAt)
	assert.Nil(t, res.ConfirmedAt)
}

func TestStockItemCanFulfill(t *testing.T) {
	item := &models.StockItem{Status: enum.StockStatusActive, AvailableQuantity: 10}

	assert.True(t, item.CanFulfill(10))
	assert.False(t, item.CanFulfill(11))

	inactive := &models.StockItem{Status: enum.StockStatusInactive, AvailableQuantity: 10}
	assert.False(t, inactive.CanFulfill(1))
}
