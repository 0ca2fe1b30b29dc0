package entity

import "time"

// ActivityLog 状态流转审计日志，与业务写入同一事务
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_scm_activity_entity"` // supply_chain/material_request/production_batch/order/transport
	EntityID   string `json:"entity_id" gorm:"size:36;not null;index:idx_scm_activity_entity"`
	EntityCode string `json:"entity_code" gorm:"size:50"`

	Action     string `json:"action" gorm:"size:50;not null"`
	FromStatus string `json:"from_status" gorm:"size:24"`
	ToStatus   string `json:"to_status" gorm:"size:24"`

	Content    string    `json:"content" gorm:"type:text"`
	OperatorID string    `json:"operator_id" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "scm_activity_logs"
}

// 审计实体类型
const (
	EntitySupplyChain     = "supply_chain"
	EntityMaterialRequest = "material_request"
	EntityProductionBatch = "production_batch"
	EntityOrder           = "order"
	EntityTransport       = "transport"
)
