package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 制造商的产品目录，带物料清单
type Product struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	Code           string    `json:"code" gorm:"size:32;not null;uniqueIndex"`
	Name           string    `json:"name" gorm:"size:128;not null"`
	ManufacturerID string    `json:"manufacturer_id" gorm:"size:64;not null;index"`
	Unit           string    `json:"unit" gorm:"size:20"`
	Description    string    `json:"description" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	BOM []BOMLine `json:"bom" gorm:"foreignKey:ProductID"`
}

func (Product) TableName() string {
	return "scm_products"
}

// BOMLine 单位产品的物料用量
type BOMLine struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	ProductID       string          `json:"product_id" gorm:"size:36;not null;index"`
	MaterialID      string          `json:"material_id" gorm:"size:64;not null"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit" gorm:"type:decimal(20,6);not null"`
	Unit            string          `json:"unit" gorm:"size:20"`
}

func (BOMLine) TableName() string {
	return "scm_bom_lines"
}
