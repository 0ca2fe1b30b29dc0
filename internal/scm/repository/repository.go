// Package repository 供应链核心的持久化层
package repository

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 乐观锁版本冲突
	ErrVersionConflict = errors.New("version conflict")
)

// Repositories 仓库集合
type Repositories struct {
	Chain       *ChainRepository
	Ledger      *LedgerRepository
	Request     *RequestRepository
	Product     *ProductRepository
	Batch       *BatchRepository
	Order       *OrderRepository
	Transport   *TransportRepository
	ActivityLog *ActivityLogRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Chain:       NewChainRepository(db),
		Ledger:      NewLedgerRepository(db),
		Request:     NewRequestRepository(db),
		Product:     NewProductRepository(db),
		Batch:       NewBatchRepository(db),
		Order:       NewOrderRepository(db),
		Transport:   NewTransportRepository(db),
		ActivityLog: NewActivityLogRepository(db),
	}
}

// WithTx 返回绑定到事务的仓库集合
func (r *Repositories) WithTx(tx *gorm.DB) *Repositories {
	return NewRepositories(tx)
}

// Page 分页参数
type Page struct {
	Page     int
	PageSize int
}

func (p Page) apply(db *gorm.DB) *gorm.DB {
	if p.Page <= 0 || p.PageSize <= 0 {
		return db
	}
	return db.Offset((p.Page - 1) * p.PageSize).Limit(p.PageSize)
}

// SnapshotTxOptions 依赖检查使用的快照隔离级别；sqlite 单写连接天然串行，不支持设置隔离级别
func SnapshotTxOptions(db *gorm.DB) []*sql.TxOptions {
	if db.Dialector.Name() == "sqlite" {
		return nil
	}
	return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead}}
}

// forUpdate 对读取行加 SELECT ... FOR UPDATE（仅 postgres）
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "postgres" {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// updateVersioned 带版本号的条件更新；版本不匹配返回 ErrVersionConflict
func updateVersioned(db *gorm.DB, model interface{}, id string, version int64, fields map[string]interface{}) error {
	fields["version"] = version + 1
	fields["updated_at"] = time.Now()
	res := db.Model(model).Where("id = ? AND version = ?", id, version).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}
