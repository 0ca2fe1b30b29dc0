package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// OrderRepository 客户订单仓库
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 创建订单及明细
func (r *OrderRepository) Create(ctx context.Context, o *entity.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.Order, error) {
	return r.find(r.db.WithContext(ctx), id)
}

func (r *OrderRepository) FindForUpdate(ctx context.Context, id string) (*entity.Order, error) {
	return r.find(forUpdate(r.db.WithContext(ctx)), id)
}

func (r *OrderRepository) find(db *gorm.DB, id string) (*entity.Order, error) {
	var o entity.Order
	err := db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("id = ?", id).First(&o).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (r *OrderRepository) UpdateVersioned(ctx context.Context, o *entity.Order, fields map[string]interface{}) error {
	if err := updateVersioned(r.db.WithContext(ctx), &entity.Order{}, o.ID, o.Version, fields); err != nil {
		return err
	}
	o.Version++
	return nil
}

// OrderFilter 订单查询条件
type OrderFilter struct {
	SupplyChainID  string
	CustomerID     string
	ManufacturerID string
	DistributorID  string
	Status         entity.OrderStatus
}

func (r *OrderRepository) List(ctx context.Context, f OrderFilter, page Page) ([]entity.Order, int64, error) {
	var items []entity.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Order{})
	if f.SupplyChainID != "" {
		query = query.Where("supply_chain_id = ?", f.SupplyChainID)
	}
	if f.CustomerID != "" {
		query = query.Where("customer_id = ?", f.CustomerID)
	}
	if f.ManufacturerID != "" {
		query = query.Where("manufacturer_id = ?", f.ManufacturerID)
	}
	if f.DistributorID != "" {
		query = query.Where("distributor_id = ?", f.DistributorID)
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
