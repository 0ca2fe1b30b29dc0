package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// LedgerRepository 台账仓库
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) CreateItem(ctx context.Context, item *entity.LedgerItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *LedgerRepository) FindItem(ctx context.Context, id string) (*entity.LedgerItem, error) {
	var item entity.LedgerItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// FindItemForUpdate 锁定台账物项
func (r *LedgerRepository) FindItemForUpdate(ctx context.Context, id string) (*entity.LedgerItem, error) {
	var item entity.LedgerItem
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// UpdateItemVersioned 带版本号更新物项，成功后同步内存对象的版本
func (r *LedgerRepository) UpdateItemVersioned(ctx context.Context, item *entity.LedgerItem, fields map[string]interface{}) error {
	if err := updateVersioned(r.db.WithContext(ctx), &entity.LedgerItem{}, item.ID, item.Version, fields); err != nil {
		return err
	}
	item.Version++
	return nil
}

// ItemFilter 物项查询条件
type ItemFilter struct {
	OwnerID       string
	SupplyChainID string
	MaterialID    string
	ItemType      entity.ItemType
	Status        entity.ItemStatus
	ReferenceType string
	ReferenceID   string
	ActiveOnly    bool
}

func (f ItemFilter) apply(db *gorm.DB) *gorm.DB {
	if f.OwnerID != "" {
		db = db.Where("owner_id = ?", f.OwnerID)
	}
	if f.SupplyChainID != "" {
		db = db.Where("supply_chain_id = ?", f.SupplyChainID)
	}
	if f.MaterialID != "" {
		db = db.Where("material_id = ?", f.MaterialID)
	}
	if f.ItemType != "" {
		db = db.Where("item_type = ?", f.ItemType)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.ReferenceType != "" {
		db = db.Where("reference_type = ? AND reference_id = ?", f.ReferenceType, f.ReferenceID)
	}
	if f.ActiveOnly {
		db = db.Where("is_active = ?", true)
	}
	return db
}

// ListItems 按条件查询物项（按创建时间先进先出）
func (r *LedgerRepository) ListItems(ctx context.Context, f ItemFilter) ([]entity.LedgerItem, error) {
	var items []entity.LedgerItem
	err := f.apply(r.db.WithContext(ctx).Model(&entity.LedgerItem{})).
		Order("created_at ASC, id ASC").Find(&items).Error
	return items, err
}

// ListItemsForUpdate 按条件查询并锁定物项
func (r *LedgerRepository) ListItemsForUpdate(ctx context.Context, f ItemFilter) ([]entity.LedgerItem, error) {
	var items []entity.LedgerItem
	err := forUpdate(f.apply(r.db.WithContext(ctx).Model(&entity.LedgerItem{}))).
		Order("created_at ASC, id ASC").Find(&items).Error
	return items, err
}

func (r *LedgerRepository) CreateTransaction(ctx context.Context, tx *entity.LedgerTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *LedgerRepository) FindTransaction(ctx context.Context, hash string) (*entity.LedgerTransaction, error) {
	var tx entity.LedgerTransaction
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", hash).First(&tx).Error; err != nil {
		return nil, translate(err)
	}
	return &tx, nil
}

// ListTransactions 按顺序返回物项的交易记录
func (r *LedgerRepository) ListTransactions(ctx context.Context, itemID string) ([]entity.LedgerTransaction, error) {
	var txs []entity.LedgerTransaction
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).Order("item_seq ASC").Find(&txs).Error
	return txs, err
}
