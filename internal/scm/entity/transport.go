package entity

import (
	"fmt"
	"time"
)

// TransportType 运输类型
type TransportType string

const (
	TransportTypeMaterial TransportType = "Material Transport"
	TransportTypeProduct  TransportType = "Product Delivery"
)

// ParseTransportType 校验运输类型
func ParseTransportType(s string) (TransportType, error) {
	t := TransportType(s)
	if t != TransportTypeMaterial && t != TransportTypeProduct {
		return "", fmt.Errorf("unknown transport type %q", s)
	}
	return t, nil
}

// TransportStatus 运输状态
type TransportStatus string

const (
	TransportStatusScheduled TransportStatus = "Scheduled"
	TransportStatusInTransit TransportStatus = "In Transit"
	TransportStatusDelivered TransportStatus = "Delivered"
	TransportStatusConfirmed TransportStatus = "Confirmed"
	TransportStatusCancelled TransportStatus = "Cancelled"
)

// ValidTransportTransitions 合法的运输状态流转
var ValidTransportTransitions = map[TransportStatus][]TransportStatus{
	TransportStatusScheduled: {TransportStatusInTransit, TransportStatusCancelled},
	TransportStatusInTransit: {TransportStatusDelivered},
	TransportStatusDelivered: {TransportStatusConfirmed},
}

func (s TransportStatus) CanTransitionTo(next TransportStatus) bool {
	return contains(ValidTransportTransitions[s], next)
}

// Live 未结束的运输（同一单据同时只能有一个）
func (s TransportStatus) Live() bool {
	return s == TransportStatusScheduled || s == TransportStatusInTransit
}

// Transport 运输单
type Transport struct {
	ID                    string          `json:"id" gorm:"primaryKey;size:36"`
	Code                  string          `json:"code" gorm:"size:32;not null;uniqueIndex"`
	DistributorID         string          `json:"distributor_id" gorm:"size:64;not null;index"`
	Type                  TransportType   `json:"type" gorm:"size:24;not null"`
	SupplyChainID         string          `json:"supply_chain_id" gorm:"size:36;not null;index"`
	SourceNodeID          string          `json:"source_node_id" gorm:"size:36;not null;index"`
	DestinationNodeID     string          `json:"destination_node_id" gorm:"size:36;not null;index"`
	Status                TransportStatus `json:"status" gorm:"size:20;not null"`
	RelatedRequestID      *string         `json:"related_request_id" gorm:"size:36;index"`
	RelatedOrderID        *string         `json:"related_order_id" gorm:"size:36;index"`
	ScheduledPickupDate   time.Time       `json:"scheduled_pickup_date"`
	ScheduledDeliveryDate time.Time       `json:"scheduled_delivery_date"`
	PickedUpAt            *time.Time      `json:"picked_up_at"`
	DeliveredAt           *time.Time      `json:"delivered_at"`
	Version               int64           `json:"version" gorm:"not null"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (Transport) TableName() string {
	return "scm_transports"
}
