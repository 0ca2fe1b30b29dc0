package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func reqItems(statuses ...RequestStatus) []MaterialRequestItem {
	items := make([]MaterialRequestItem, len(statuses))
	for i, s := range statuses {
		items[i] = MaterialRequestItem{Status: s}
	}
	return items
}

func TestDeriveRequestStatus(t *testing.T) {
	tests := []struct {
		name  string
		items []MaterialRequestItem
		want  RequestStatus
	}{
		{"empty", nil, RequestStatusRequested},
		{"all requested", reqItems(RequestStatusRequested, RequestStatusRequested), RequestStatusRequested},
		{"all rejected", reqItems(RequestStatusRejected, RequestStatusRejected), RequestStatusRejected},
		{"rejected ignored", reqItems(RequestStatusRejected, RequestStatusApproved), RequestStatusApproved},
		{"minimum wins", reqItems(RequestStatusInTransit, RequestStatusAllocated, RequestStatusDelivered), RequestStatusAllocated},
		{"single delivered", reqItems(RequestStatusDelivered), RequestStatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveRequestStatus(tt.items))
		})
	}
}

func TestRequestStatusMonotonic(t *testing.T) {
	assert.True(t, RequestStatusRequested.CanAdvanceTo(RequestStatusApproved))
	assert.True(t, RequestStatusRequested.CanAdvanceTo(RequestStatusRejected))
	assert.True(t, RequestStatusAllocated.CanAdvanceTo(RequestStatusReadyForPickup))
	assert.False(t, RequestStatusAllocated.CanAdvanceTo(RequestStatusApproved))
	assert.False(t, RequestStatusApproved.CanAdvanceTo(RequestStatusRejected))
	assert.False(t, RequestStatusRejected.CanAdvanceTo(RequestStatusApproved))
	assert.False(t, RequestStatusDelivered.CanAdvanceTo(RequestStatusDelivered))

	assert.True(t, RequestStatusInTransit.AtLeast(RequestStatusAllocated))
	assert.False(t, RequestStatusRejected.AtLeast(RequestStatusRequested))
}

func TestOrderTransitions(t *testing.T) {
	assert.True(t, OrderStatusRequested.CanTransitionTo(OrderStatusInProduction))
	assert.True(t, OrderStatusRequested.CanTransitionTo(OrderStatusReadyForShipment))
	assert.True(t, OrderStatusReadyForShipment.CanTransitionTo(OrderStatusCancelled))
	assert.True(t, OrderStatusDelivered.CanTransitionTo(OrderStatusCompleted))
	assert.False(t, OrderStatusInTransit.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusCompleted.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusCancelled.CanTransitionTo(OrderStatusRequested))
}

func TestBatchAndTransportTransitions(t *testing.T) {
	assert.True(t, BatchStatusInProduction.CanTransitionTo(BatchStatusInQC))
	assert.True(t, BatchStatusInQC.CanTransitionTo(BatchStatusRejected))
	assert.False(t, BatchStatusCompleted.CanTransitionTo(BatchStatusRejected))
	assert.False(t, BatchStatusRejected.CanTransitionTo(BatchStatusInProduction))

	assert.True(t, TransportStatusScheduled.CanTransitionTo(TransportStatusInTransit))
	assert.False(t, TransportStatusScheduled.CanTransitionTo(TransportStatusDelivered))
	assert.False(t, TransportStatusCancelled.CanTransitionTo(TransportStatusInTransit))
	assert.True(t, TransportStatusInTransit.Live())
	assert.False(t, TransportStatusDelivered.Live())
}

func TestParseEnums(t *testing.T) {
	_, err := ParseNodeRole("Supplier")
	assert.NoError(t, err)
	_, err = ParseNodeRole("Pirate")
	assert.Error(t, err)

	_, err = ParseItemType("allocated-material")
	assert.NoError(t, err)
	_, err = ParseItemType("gold")
	assert.Error(t, err)

	_, err = ParseOrderStatus("Completed")
	assert.NoError(t, err)
	_, err = ParseOrderStatus("Lost")
	assert.Error(t, err)

	_, err = ParseRequestStatus("Ready for Pickup")
	assert.NoError(t, err)
	_, err = ParseRequestStatus("Shipped")
	assert.Error(t, err)

	_, err = ParseTransportType("Material Transport")
	assert.NoError(t, err)
	_, err = ParseTransportType("Teleport")
	assert.Error(t, err)
}

func TestLedgerTransactionHash(t *testing.T) {
	tx := &LedgerTransaction{
		Nonce:     "n-1",
		PrevHash:  "",
		ItemID:    "item-1",
		ItemSeq:   1,
		Operation: TxOpMint,
		ToOwner:   "supplier-1",
		Quantity:  decimal.RequireFromString("500"),
		Status:    ItemStatusCreated,
		Payload:   []byte(`{"b":"2","a":"1"}`),
		CreatedAt: time.Date(2026, 10, 18, 8, 0, 0, 123456789, time.UTC),
	}
	tx.TxHash = tx.ComputeHash()
	assert.Len(t, tx.TxHash, 64)
	assert.True(t, tx.Verify())

	// 存储层改写数值精度与 JSON 键序后哈希不变
	roundTrip := *tx
	roundTrip.Quantity = decimal.RequireFromString("500.000000")
	roundTrip.Payload = []byte(`{"a": "1", "b": "2"}`)
	roundTrip.CreatedAt = tx.CreatedAt.Truncate(time.Microsecond).In(time.FixedZone("CST", 8*3600))
	assert.True(t, roundTrip.Verify())

	tampered := *tx
	tampered.Quantity = decimal.RequireFromString("501")
	assert.False(t, tampered.Verify())
}
