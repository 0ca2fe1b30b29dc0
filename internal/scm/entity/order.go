package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 客户订单状态
type OrderStatus string

const (
	OrderStatusRequested        OrderStatus = "Requested"
	OrderStatusInProduction     OrderStatus = "In Production"
	OrderStatusReadyForShipment OrderStatus = "Ready for Shipment"
	OrderStatusInTransit        OrderStatus = "In Transit"
	OrderStatusDelivered        OrderStatus = "Delivered"
	OrderStatusCompleted        OrderStatus = "Completed"
	OrderStatusCancelled        OrderStatus = "Cancelled"
)

// ValidOrderTransitions 合法的订单状态流转
var ValidOrderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusRequested:        {OrderStatusInProduction, OrderStatusReadyForShipment, OrderStatusCancelled},
	OrderStatusInProduction:     {OrderStatusReadyForShipment, OrderStatusCancelled},
	OrderStatusReadyForShipment: {OrderStatusInTransit, OrderStatusCancelled},
	OrderStatusInTransit:        {OrderStatusDelivered},
	OrderStatusDelivered:        {OrderStatusCompleted},
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return contains(ValidOrderTransitions[s], next)
}

// ParseOrderStatus 校验订单状态
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := ValidOrderTransitions[st]; ok || st == OrderStatusCompleted || st == OrderStatusCancelled {
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Order 客户订单
type Order struct {
	ID                    string          `json:"id" gorm:"primaryKey;size:36"`
	Code                  string          `json:"code" gorm:"size:32;not null;uniqueIndex"`
	CustomerID            string          `json:"customer_id" gorm:"size:64;not null;index"`
	SupplyChainID         string          `json:"supply_chain_id" gorm:"size:36;not null;index"`
	ManufacturerID        string          `json:"manufacturer_id" gorm:"size:64;index"`
	DistributorID         string          `json:"distributor_id" gorm:"size:64;index"`
	Status                OrderStatus     `json:"status" gorm:"size:24;not null"`
	ShippingAddress       string          `json:"shipping_address" gorm:"size:500"`
	RequestedDeliveryDate *time.Time      `json:"requested_delivery_date"`
	TotalAmount           decimal.Decimal `json:"total_amount" gorm:"type:decimal(20,6);not null"`
	DeliveredAt           *time.Time      `json:"delivered_at"`
	CompletedAt           *time.Time      `json:"completed_at"`
	CancelledAt           *time.Time      `json:"cancelled_at"`
	Version               int64           `json:"version" gorm:"not null"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`

	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID"`
}

func (Order) TableName() string {
	return "scm_orders"
}

// OrderItem 订单明细
type OrderItem struct {
	ID        string          `json:"id" gorm:"primaryKey;size:36"`
	OrderID   string          `json:"order_id" gorm:"size:36;not null;index"`
	LineNo    int             `json:"line_no" gorm:"not null"`
	ProductID string          `json:"product_id" gorm:"size:36;not null"`
	Quantity  decimal.Decimal `json:"quantity" gorm:"type:decimal(20,6);not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(20,6);not null"`
}

func (OrderItem) TableName() string {
	return "scm_order_items"
}
