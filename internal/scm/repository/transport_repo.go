package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// TransportRepository 运输单仓库
type TransportRepository struct {
	db *gorm.DB
}

func NewTransportRepository(db *gorm.DB) *TransportRepository {
	return &TransportRepository{db: db}
}

func (r *TransportRepository) Create(ctx context.Context, t *entity.Transport) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *TransportRepository) FindByID(ctx context.Context, id string) (*entity.Transport, error) {
	var t entity.Transport
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *TransportRepository) FindForUpdate(ctx context.Context, id string) (*entity.Transport, error) {
	var t entity.Transport
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *TransportRepository) UpdateVersioned(ctx context.Context, t *entity.Transport, fields map[string]interface{}) error {
	if err := updateVersioned(r.db.WithContext(ctx), &entity.Transport{}, t.ID, t.Version, fields); err != nil {
		return err
	}
	t.Version++
	return nil
}

// FindLiveByRequest 查询申请单未结束的运输
func (r *TransportRepository) FindLiveByRequest(ctx context.Context, requestID string) (*entity.Transport, error) {
	return r.findLive(ctx, "related_request_id = ?", requestID)
}

// FindLiveByOrder 查询订单未结束的运输
func (r *TransportRepository) FindLiveByOrder(ctx context.Context, orderID string) (*entity.Transport, error) {
	return r.findLive(ctx, "related_order_id = ?", orderID)
}

// FindLatestByOrder 查询订单最近的运输（任意状态）
func (r *TransportRepository) FindLatestByOrder(ctx context.Context, orderID string) (*entity.Transport, error) {
	var t entity.Transport
	err := forUpdate(r.db.WithContext(ctx)).Where("related_order_id = ? AND status <> ?", orderID, entity.TransportStatusCancelled).
		Order("created_at DESC").First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *TransportRepository) findLive(ctx context.Context, cond string, id string) (*entity.Transport, error) {
	var t entity.Transport
	err := forUpdate(r.db.WithContext(ctx)).Where(cond, id).
		Where("status IN ?", []entity.TransportStatus{entity.TransportStatusScheduled, entity.TransportStatusInTransit}).
		Order("created_at DESC").First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// TransportFilter 运输单查询条件
type TransportFilter struct {
	DistributorID    string
	SupplyChainID    string
	RelatedRequestID string
	RelatedOrderID   string
	Status           entity.TransportStatus
}

func (r *TransportRepository) List(ctx context.Context, f TransportFilter, page Page) ([]entity.Transport, int64, error) {
	var items []entity.Transport
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Transport{})
	if f.DistributorID != "" {
		query = query.Where("distributor_id = ?", f.DistributorID)
	}
	if f.SupplyChainID != "" {
		query = query.Where("supply_chain_id = ?", f.SupplyChainID)
	}
	if f.RelatedRequestID != "" {
		query = query.Where("related_request_id = ?", f.RelatedRequestID)
	}
	if f.RelatedOrderID != "" {
		query = query.Where("related_order_id = ?", f.RelatedOrderID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := page.apply(query.Order("created_at DESC")).Find(&items).Error
	return items, total, err
}
