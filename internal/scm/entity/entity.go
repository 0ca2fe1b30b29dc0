// Package entity 供应链核心的数据模型与状态机定义
package entity

import (
	"gorm.io/gorm"
)

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&SupplyChain{},
		&GraphNode{},
		&GraphEdge{},
		&LedgerItem{},
		&LedgerTransaction{},
		&MaterialRequest{},
		&MaterialRequestItem{},
		&Product{},
		&BOMLine{},
		&ProductionBatch{},
		&BatchMaterial{},
		&Order{},
		&OrderItem{},
		&Transport{},
		&ActivityLog{},
	}
}

// AutoMigrate 自动迁移全部表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}

func contains[S comparable](list []S, v S) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
