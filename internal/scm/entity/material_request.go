package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus 物料申请状态（申请单与明细共用）
type RequestStatus string

const (
	RequestStatusRequested      RequestStatus = "Requested"
	RequestStatusApproved       RequestStatus = "Approved"
	RequestStatusAllocated      RequestStatus = "Allocated"
	RequestStatusReadyForPickup RequestStatus = "Ready for Pickup"
	RequestStatusInTransit      RequestStatus = "In Transit"
	RequestStatusDelivered      RequestStatus = "Delivered"
	RequestStatusRejected       RequestStatus = "Rejected"
)

// requestProgress 状态推进序号，Rejected 为终态不参与排序
var requestProgress = map[RequestStatus]int{
	RequestStatusRequested:      0,
	RequestStatusApproved:       1,
	RequestStatusAllocated:      2,
	RequestStatusReadyForPickup: 3,
	RequestStatusInTransit:      4,
	RequestStatusDelivered:      5,
}

// ParseRequestStatus 校验申请状态
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(s)
	if st == RequestStatusRejected {
		return st, nil
	}
	if _, ok := requestProgress[st]; !ok {
		return "", fmt.Errorf("unknown request status %q", s)
	}
	return st, nil
}

// Rank 推进序号；Rejected 返回 -1
func (s RequestStatus) Rank() int {
	if r, ok := requestProgress[s]; ok {
		return r
	}
	return -1
}

// AtLeast 是否已推进到 other 或更后的状态
func (s RequestStatus) AtLeast(other RequestStatus) bool {
	return s != RequestStatusRejected && s.Rank() >= other.Rank()
}

// CanAdvanceTo 状态只能前进；Rejected 只能从 Requested 进入
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	if s == RequestStatusRejected {
		return false
	}
	if next == RequestStatusRejected {
		return s == RequestStatusRequested
	}
	return next.Rank() > s.Rank()
}

// MaterialRequest 物料申请单（制造商向供应商申请物料）
type MaterialRequest struct {
	ID               string        `json:"id" gorm:"primaryKey;size:36"`
	Code             string        `json:"code" gorm:"size:32;not null;uniqueIndex"`
	SupplierID       string        `json:"supplier_id" gorm:"size:64;not null;index"`
	ManufacturerID   string        `json:"manufacturer_id" gorm:"size:64;not null;index"`
	SupplyChainID    string        `json:"supply_chain_id" gorm:"size:36;not null;index"`
	Status           RequestStatus `json:"status" gorm:"size:20;not null"`
	BlockchainTxHash string        `json:"blockchain_tx_hash" gorm:"size:64"`
	Notes            string        `json:"notes" gorm:"type:text"`
	Version          int64         `json:"version" gorm:"not null"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`

	Items []MaterialRequestItem `json:"items,omitempty" gorm:"foreignKey:RequestID"`
}

func (MaterialRequest) TableName() string {
	return "scm_material_requests"
}

// MaterialRequestItem 物料申请明细
type MaterialRequestItem struct {
	ID                string          `json:"id" gorm:"primaryKey;size:36"`
	RequestID         string          `json:"request_id" gorm:"size:36;not null;index"`
	LineNo            int             `json:"line_no" gorm:"not null"`
	MaterialID        string          `json:"material_id" gorm:"size:64;not null"`
	MaterialName      string          `json:"material_name" gorm:"size:128"`
	Unit              string          `json:"unit" gorm:"size:20"`
	RequestedQuantity decimal.Decimal `json:"requested_quantity" gorm:"type:decimal(20,6);not null"`
	ApprovedQuantity  decimal.Decimal `json:"approved_quantity" gorm:"type:decimal(20,6);not null"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity" gorm:"type:decimal(20,6);not null"`
	Status            RequestStatus   `json:"status" gorm:"size:20;not null"`
	BlockchainItemID  *string         `json:"blockchain_item_id" gorm:"size:36"`
	ReceivedItemID    *string         `json:"received_item_id" gorm:"size:36"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (MaterialRequestItem) TableName() string {
	return "scm_material_request_items"
}

// DeriveRequestStatus 由明细状态推导申请单状态：
// 全部驳回为 Rejected，否则取未驳回明细中推进最慢的状态。
func DeriveRequestStatus(items []MaterialRequestItem) RequestStatus {
	if len(items) == 0 {
		return RequestStatusRequested
	}
	derived := RequestStatusRejected
	for _, item := range items {
		if item.Status == RequestStatusRejected {
			continue
		}
		if derived == RequestStatusRejected || item.Status.Rank() < derived.Rank() {
			derived = item.Status
		}
	}
	return derived
}
