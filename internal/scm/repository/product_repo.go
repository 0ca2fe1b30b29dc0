package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// ProductRepository 产品目录仓库
type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create 创建产品及物料清单
func (r *ProductRepository) Create(ctx context.Context, p *entity.Product) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *ProductRepository) FindByID(ctx context.Context, id string) (*entity.Product, error) {
	var p entity.Product
	if err := r.db.WithContext(ctx).Preload("BOM").Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *ProductRepository) List(ctx context.Context, manufacturerID string) ([]entity.Product, error) {
	var items []entity.Product
	query := r.db.WithContext(ctx).Preload("BOM")
	if manufacturerID != "" {
		query = query.Where("manufacturer_id = ?", manufacturerID)
	}
	err := query.Order("created_at DESC").Find(&items).Error
	return items, err
}
