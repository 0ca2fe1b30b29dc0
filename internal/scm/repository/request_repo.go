package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// RequestRepository 物料申请仓库
type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create 创建申请单及明细
func (r *RequestRepository) Create(ctx context.Context, req *entity.MaterialRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *RequestRepository) FindByID(ctx context.Context, id string) (*entity.MaterialRequest, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindForUpdate 锁定申请单行后加载明细
func (r *RequestRepository) FindForUpdate(ctx context.Context, id string) (*entity.MaterialRequest, error) {
	return r.find(forUpdate(r.db.WithContext(ctx)), id)
}

func (r *RequestRepository) find(db *gorm.DB, id string) (*entity.MaterialRequest, error) {
	var req entity.MaterialRequest
	err := db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("id = ?", id).First(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// UpdateVersioned 带版本号更新申请单
func (r *RequestRepository) UpdateVersioned(ctx context.Context, req *entity.MaterialRequest, fields map[string]interface{}) error {
	if err := updateVersioned(r.db.WithContext(ctx), &entity.MaterialRequest{}, req.ID, req.Version, fields); err != nil {
		return err
	}
	req.Version++
	return nil
}

// SaveItem 更新明细（申请单行锁已持有）
func (r *RequestRepository) SaveItem(ctx context.Context, item *entity.MaterialRequestItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// RequestFilter 申请单查询条件
type RequestFilter struct {
	SupplyChainID  string
	SupplierID     string
	ManufacturerID string
	Status         entity.RequestStatus
}

func (r *RequestRepository) List(ctx context.Context, f RequestFilter, page Page) ([]entity.MaterialRequest, int64, error) {
	var items []entity.MaterialRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.MaterialRequest{})
	if f.SupplyChainID != "" {
		query = query.Where("supply_chain_id = ?", f.SupplyChainID)
	}
	if f.SupplierID != "" {
		query = query.Where("supplier_id = ?", f.SupplierID)
	}
	if f.ManufacturerID != "" {
		query = query.Where("manufacturer_id = ?", f.ManufacturerID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := page.apply(query.Preload("Items").Order("created_at DESC")).Find(&items).Error
	return items, total, err
}
