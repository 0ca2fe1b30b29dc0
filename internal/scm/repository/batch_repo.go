package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// BatchRepository 生产批次仓库
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create 创建批次及物料消耗记录
func (r *BatchRepository) Create(ctx context.Context, b *entity.ProductionBatch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BatchRepository) FindByID(ctx context.Context, id string) (*entity.ProductionBatch, error) {
	return r.find(r.db.WithContext(ctx), id)
}

func (r *BatchRepository) FindForUpdate(ctx context.Context, id string) (*entity.ProductionBatch, error) {
	return r.find(forUpdate(r.db.WithContext(ctx)), id)
}

func (r *BatchRepository) find(db *gorm.DB, id string) (*entity.ProductionBatch, error) {
	var b entity.ProductionBatch
	if err := db.Preload("Materials").Where("id = ?", id).First(&b).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

func (r *BatchRepository) UpdateVersioned(ctx context.Context, b *entity.ProductionBatch, fields map[string]interface{}) error {
	if err := updateVersioned(r.db.WithContext(ctx), &entity.ProductionBatch{}, b.ID, b.Version, fields); err != nil {
		return err
	}
	b.Version++
	return nil
}

// BatchFilter 批次查询条件
type BatchFilter struct {
	ManufacturerID string
	ProductID      string
	SupplyChainID  string
	Status         entity.BatchStatus
}

func (r *BatchRepository) List(ctx context.Context, f BatchFilter, page Page) ([]entity.ProductionBatch, int64, error) {
	var items []entity.ProductionBatch
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ProductionBatch{})
	if f.ManufacturerID != "" {
		query = query.Where("manufacturer_id = ?", f.ManufacturerID)
	}
	if f.ProductID != "" {
		query = query.Where("product_id = ?", f.ProductID)
	}
	if f.SupplyChainID != "" {
		query = query.Where("supply_chain_id = ?", f.SupplyChainID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := page.apply(query.Preload("Materials").Order("created_at DESC")).Find(&items).Error
	return items, total, err
}
