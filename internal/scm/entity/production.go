package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus 生产批次状态
type BatchStatus string

const (
	BatchStatusPlanned      BatchStatus = "Planned"
	BatchStatusInProduction BatchStatus = "In Production"
	BatchStatusInQC         BatchStatus = "In QC"
	BatchStatusCompleted    BatchStatus = "Completed"
	BatchStatusRejected     BatchStatus = "Rejected"
)

// ValidBatchTransitions 合法的批次状态流转
var ValidBatchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPlanned:      {BatchStatusInProduction, BatchStatusRejected},
	BatchStatusInProduction: {BatchStatusInQC, BatchStatusCompleted, BatchStatusRejected},
	BatchStatusInQC:         {BatchStatusCompleted, BatchStatusRejected},
}

func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	return contains(ValidBatchTransitions[s], next)
}

// ParseBatchStatus 校验批次状态
func ParseBatchStatus(s string) (BatchStatus, error) {
	st := BatchStatus(s)
	switch st {
	case BatchStatusPlanned, BatchStatusInProduction, BatchStatusInQC, BatchStatusCompleted, BatchStatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown batch status %q", s)
}

// ProductionBatch 生产批次
type ProductionBatch struct {
	ID             string          `json:"id" gorm:"primaryKey;size:36"`
	Code           string          `json:"code" gorm:"size:32;not null;uniqueIndex"`
	ManufacturerID string          `json:"manufacturer_id" gorm:"size:64;not null;index"`
	ProductID      string          `json:"product_id" gorm:"size:36;not null;index"`
	SupplyChainID  string          `json:"supply_chain_id" gorm:"size:36;not null;index"`
	Quantity       decimal.Decimal `json:"quantity" gorm:"type:decimal(20,6);not null"`
	Status         BatchStatus     `json:"status" gorm:"size:20;not null"`
	QualityNotes   string          `json:"quality_notes" gorm:"type:text"`
	RejectReason   string          `json:"reject_reason" gorm:"type:text"`
	ProductItemID  *string         `json:"product_item_id" gorm:"size:36"`
	RelatedOrderID *string         `json:"related_order_id" gorm:"size:36;index"`
	StartedAt      *time.Time      `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	Version        int64           `json:"version" gorm:"not null"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Materials []BatchMaterial `json:"materials,omitempty" gorm:"foreignKey:BatchID"`
}

func (ProductionBatch) TableName() string {
	return "scm_production_batches"
}

// BatchMaterial 批次消耗的物料批次
type BatchMaterial struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"`
	BatchID          string          `json:"batch_id" gorm:"size:36;not null;index"`
	MaterialID       string          `json:"material_id" gorm:"size:64;not null"`
	BlockchainItemID string          `json:"blockchain_item_id" gorm:"size:36;not null;index"`
	ConsumedItemID   string          `json:"consumed_item_id" gorm:"size:36"`
	Quantity         decimal.Decimal `json:"quantity" gorm:"type:decimal(20,6);not null"`
}

func (BatchMaterial) TableName() string {
	return "scm_batch_materials"
}
