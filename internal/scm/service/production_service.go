package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/shared/idgen"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductionService 生产：按物料清单消耗物料批次，完工后铸造成品
type ProductionService struct {
	base
	ledger *LedgerService
	chain  *ChainService
}

type BOMLineReq struct {
	MaterialID      string          `json:"material_id" binding:"required"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
	Unit            string          `json:"unit"`
}

type CreateProductReq struct {
	Name           string       `json:"name" binding:"required"`
	Unit           string       `json:"unit"`
	Description    string       `json:"description"`
	ManufacturerID string       `json:"manufacturer_id"` // 仅管理员代填
	BOM            []BOMLineReq `json:"bom"`
}

type BatchMaterialReq struct {
	MaterialID       string          `json:"material_id" binding:"required"`
	BlockchainItemID string          `json:"blockchain_item_id" binding:"required"`
	Quantity         decimal.Decimal `json:"quantity"` // 为空时取该物料的需求量（仅限单个批次）
}

type CreateBatchReq struct {
	ProductID      string             `json:"product_id" binding:"required"`
	SupplyChainID  string             `json:"supply_chain_id" binding:"required"`
	Quantity       decimal.Decimal    `json:"quantity"`
	RelatedOrderID *string            `json:"related_order_id"`
	ManufacturerID string             `json:"manufacturer_id"` // 仅管理员代填
	Materials      []BatchMaterialReq `json:"materials"`
}

type CompleteBatchReq struct {
	QualityNotes string `json:"quality_notes"`
}

type RejectBatchReq struct {
	Reason string `json:"reason"`
}

// CreateProduct 创建产品及物料清单
func (s *ProductionService) CreateProduct(ctx context.Context, req CreateProductReq, actor Actor) (*entity.Product, error) {
	manufacturerID := actor.resolve(req.ManufacturerID)
	if strings.TrimSpace(req.Name) == "" || manufacturerID == "" {
		return nil, apperr.New(apperr.InvalidInput, "产品名称与制造商不能为空")
	}
	if len(req.BOM) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "物料清单不能为空")
	}
	p := &entity.Product{
		ID:             uuid.New().String(),
		Code:           idgen.MustGenerate(idgen.PrefixProduct, s.now()),
		Name:           strings.TrimSpace(req.Name),
		ManufacturerID: manufacturerID,
		Unit:           req.Unit,
		Description:    req.Description,
	}
	seen := make(map[string]bool)
	for i, l := range req.BOM {
		if l.MaterialID == "" || !l.QuantityPerUnit.IsPositive() {
			return nil, apperr.New(apperr.InvalidInput, "物料清单第%d行无效", i+1)
		}
		if seen[l.MaterialID] {
			return nil, apperr.New(apperr.InvalidInput, "物料 %s 在清单中重复", l.MaterialID)
		}
		seen[l.MaterialID] = true
		p.BOM = append(p.BOM, entity.BOMLine{
			ID:              uuid.New().String(),
			ProductID:       p.ID,
			MaterialID:      l.MaterialID,
			QuantityPerUnit: l.QuantityPerUnit,
			Unit:            l.Unit,
		})
	}
	if err := s.repos.Product.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("创建产品失败: %w", err)
	}
	return p, nil
}

// GetProduct 查询产品
func (s *ProductionService) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	p, err := s.repos.Product.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "产品", id)
	}
	return p, nil
}

// ListProducts 查询产品列表
func (s *ProductionService) ListProducts(ctx context.Context, manufacturerID string) ([]entity.Product, error) {
	items, err := s.repos.Product.List(ctx, manufacturerID)
	if err != nil {
		return nil, fmt.Errorf("查询产品失败: %w", err)
	}
	return items, nil
}

// CreateBatch 创建生产批次：校验物料充足后在同一事务内逐行消耗物料批次，批次进入生产
func (s *ProductionService) CreateBatch(ctx context.Context, req CreateBatchReq, actor Actor) (*entity.ProductionBatch, error) {
	manufacturerID := actor.resolve(req.ManufacturerID)
	if manufacturerID == "" {
		return nil, apperr.New(apperr.InvalidInput, "制造商不能为空")
	}
	if !req.Quantity.IsPositive() {
		return nil, apperr.New(apperr.InvalidInput, "生产数量必须大于0")
	}
	if len(req.Materials) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "投料明细不能为空")
	}

	now := s.now()
	batch := &entity.ProductionBatch{
		ID:             uuid.New().String(),
		Code:           idgen.MustGenerate(idgen.PrefixBatch, now),
		ManufacturerID: manufacturerID,
		ProductID:      req.ProductID,
		SupplyChainID:  req.SupplyChainID,
		Quantity:       req.Quantity,
		Status:         entity.BatchStatusPlanned,
		Version:        1,
	}
	var orderEvent *events.Event

	err := s.transaction(ctx, func(r *repository.Repositories) error {
		product, err := r.Product.FindByID(ctx, req.ProductID)
		if err != nil {
			return notFound(err, apperr.NotFound, "产品", req.ProductID)
		}
		if product.ManufacturerID != manufacturerID {
			return apperr.New(apperr.Forbidden, "产品 %s 不属于制造商 %s", product.Code, manufacturerID)
		}
		chain, err := s.chain.loadOperational(ctx, r, req.SupplyChainID)
		if err != nil {
			return err
		}
		if len(nodesOf(chain, manufacturerID, entity.RoleManufacturer)) == 0 {
			return apperr.New(apperr.InvalidTopology, "用户 %s 不是该供应链的制造商", manufacturerID)
		}

		lines, err := planConsumption(product, req.Quantity, req.Materials)
		if err != nil {
			return err
		}

		for _, line := range lines {
			lot, err := r.Ledger.FindItemForUpdate(ctx, line.BlockchainItemID)
			if err != nil {
				return notFound(err, apperr.ItemNotFound, "物料批次", line.BlockchainItemID)
			}
			if err := s.checkLot(ctx, r, lot, line, batch); err != nil {
				return err
			}
			res, err := s.ledger.transferTx(ctx, r, lot.ID, manufacturerID, line.Quantity, transferOpts{
				Status:  entity.ItemStatusProcessing,
				RefType: entity.RefTypeBatch,
				RefID:   batch.ID,
				Payload: map[string]string{"batch_code": batch.Code},
			})
			if err != nil {
				return err
			}
			batch.Materials = append(batch.Materials, entity.BatchMaterial{
				ID:               uuid.New().String(),
				BatchID:          batch.ID,
				MaterialID:       line.MaterialID,
				BlockchainItemID: lot.ID,
				ConsumedItemID:   res.Transferred.ID,
				Quantity:         line.Quantity,
			})
		}

		batch.Status = entity.BatchStatusInProduction
		batch.StartedAt = &now
		if req.RelatedOrderID != nil && *req.RelatedOrderID != "" {
			batch.RelatedOrderID = req.RelatedOrderID
			orderEvent, err = s.linkOrder(ctx, r, *req.RelatedOrderID, batch, actor)
			if err != nil {
				return err
			}
		}
		if err := r.Batch.Create(ctx, batch); err != nil {
			return fmt.Errorf("创建生产批次失败: %w", err)
		}
		return r.ActivityLog.LogTransition(ctx, entity.EntityProductionBatch, batch.ID, batch.Code, "create",
			string(entity.BatchStatusPlanned), string(entity.BatchStatusInProduction),
			fmt.Sprintf("投产 %s × %s，投料 %d 行", product.Code, req.Quantity, len(lines)), actor.UserID)
	})
	if err != nil {
		if apperr.Is(err, apperr.InsufficientQuantity) {
			s.logger.Warn("batch rejected for insufficient material", zap.String("product_id", req.ProductID), zap.Error(err))
		}
		return nil, err
	}

	ob := &outbox{}
	ob.add(events.TopicBatchCreated, entity.EntityProductionBatch, batch.ID, batch.Code, string(entity.BatchStatusPlanned), string(batch.Status), actor.UserID, now)
	if orderEvent != nil {
		ob.events = append(ob.events, *orderEvent)
	}
	s.flush(ctx, ob)
	return batch, nil
}

// planConsumption 按物料清单校验投料：每种物料的投料合计不少于 单位用量 × 批量
func planConsumption(product *entity.Product, qty decimal.Decimal, materials []BatchMaterialReq) ([]BatchMaterialReq, error) {
	byMaterial := make(map[string][]int)
	for i, m := range materials {
		byMaterial[m.MaterialID] = append(byMaterial[m.MaterialID], i)
	}
	inBOM := make(map[string]bool, len(product.BOM))
	for _, b := range product.BOM {
		inBOM[b.MaterialID] = true
	}
	for materialID := range byMaterial {
		if !inBOM[materialID] {
			return nil, apperr.New(apperr.InvalidInput, "物料 %s 不在产品 %s 的物料清单中", materialID, product.Code)
		}
	}

	lines := make([]BatchMaterialReq, len(materials))
	copy(lines, materials)
	for _, b := range product.BOM {
		required := b.QuantityPerUnit.Mul(qty)
		idx := byMaterial[b.MaterialID]
		if len(idx) == 0 {
			return nil, apperr.New(apperr.InsufficientQuantity, "物料 %s 未投料，需求 %s", b.MaterialID, required)
		}
		if len(idx) == 1 && lines[idx[0]].Quantity.IsZero() {
			lines[idx[0]].Quantity = required
		}
		sum := decimal.Zero
		for _, i := range idx {
			if !lines[i].Quantity.IsPositive() {
				return nil, apperr.New(apperr.InvalidInput, "物料 %s 的投料数量必须大于0", b.MaterialID)
			}
			sum = sum.Add(lines[i].Quantity)
		}
		if sum.LessThan(required) {
			return nil, apperr.New(apperr.InsufficientQuantity, "物料 %s 投料 %s，少于需求 %s", b.MaterialID, sum, required)
		}
	}
	return lines, nil
}

// checkLot 物料批次必须有效、同链、同物料，且归制造商所有或是为其申请分配的物料
func (s *ProductionService) checkLot(ctx context.Context, r *repository.Repositories, lot *entity.LedgerItem, line BatchMaterialReq, batch *entity.ProductionBatch) error {
	if !lot.IsActive {
		return apperr.New(apperr.ItemInactive, "物料批次 %s 已失效", lot.ID)
	}
	if lot.SupplyChainID != batch.SupplyChainID {
		return apperr.New(apperr.InvalidTopology, "物料批次 %s 不属于该供应链", lot.ID)
	}
	if !lot.ItemType.IsMaterial() || lot.MaterialID != line.MaterialID {
		return apperr.New(apperr.InvalidInput, "物料批次 %s 不是物料 %s", lot.ID, line.MaterialID)
	}
	if !lot.Status.Consumable() {
		return apperr.New(apperr.InvalidTransition, "物料批次 %s 当前状态 %s 不可投产", lot.ID, lot.Status)
	}
	if lot.OwnerID == batch.ManufacturerID {
		return nil
	}
	if lot.ReferenceType == entity.RefTypeRequest {
		mr, err := r.Request.FindByID(ctx, lot.ReferenceID)
		if err == nil && mr.ManufacturerID == batch.ManufacturerID {
			return nil
		}
	}
	return apperr.New(apperr.Forbidden, "物料批次 %s 不归制造商 %s 所有", lot.ID, batch.ManufacturerID)
}

// linkOrder 关联订单：Requested 的订单进入生产
func (s *ProductionService) linkOrder(ctx context.Context, r *repository.Repositories, orderID string, batch *entity.ProductionBatch, actor Actor) (*events.Event, error) {
	order, err := r.Order.FindForUpdate(ctx, orderID)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "订单", orderID)
	}
	if order.SupplyChainID != batch.SupplyChainID {
		return nil, apperr.New(apperr.InvalidTopology, "订单 %s 不属于该供应链", order.Code)
	}
	if order.ManufacturerID != "" && order.ManufacturerID != batch.ManufacturerID {
		return nil, apperr.New(apperr.Forbidden, "订单 %s 已由其他制造商承接", order.Code)
	}
	switch order.Status {
	case entity.OrderStatusInProduction:
		return nil, nil
	case entity.OrderStatusRequested:
	default:
		return nil, apperr.New(apperr.InvalidTransition, "订单状态 %s 不能关联生产批次", order.Status)
	}
	if err := r.Order.UpdateVersioned(ctx, order, map[string]interface{}{
		"status":          entity.OrderStatusInProduction,
		"manufacturer_id": batch.ManufacturerID,
	}); err != nil {
		return nil, conflict(err, "订单")
	}
	if err := r.ActivityLog.LogTransition(ctx, entity.EntityOrder, order.ID, order.Code, "production_start",
		string(entity.OrderStatusRequested), string(entity.OrderStatusInProduction), "生产批次 "+batch.Code+" 投产", actor.UserID); err != nil {
		return nil, err
	}
	return &events.Event{
		Topic:      events.TopicOrderUpdated,
		EntityType: entity.EntityOrder,
		EntityID:   order.ID,
		EntityCode: order.Code,
		FromStatus: string(entity.OrderStatusRequested),
		ToStatus:   string(entity.OrderStatusInProduction),
		ActorID:    actor.UserID,
		At:         s.now(),
	}, nil
}

// StartQC 进入质检
func (s *ProductionService) StartQC(ctx context.Context, batchID string, actor Actor) (*entity.ProductionBatch, error) {
	var batch *entity.ProductionBatch
	changed := false
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		batch, err = s.lockBatch(ctx, r, batchID, actor)
		if err != nil {
			return err
		}
		if batch.Status == entity.BatchStatusInQC {
			return nil
		}
		if !batch.Status.CanTransitionTo(entity.BatchStatusInQC) {
			return apperr.New(apperr.InvalidTransition, "批次状态 %s 不允许进入质检", batch.Status)
		}
		changed = true
		return s.moveBatch(ctx, r, batch, entity.BatchStatusInQC, nil, "start_qc", "进入质检", actor)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		ob := &outbox{}
		ob.add(events.TopicBatchQC, entity.EntityProductionBatch, batch.ID, batch.Code, string(entity.BatchStatusInProduction), string(batch.Status), actor.UserID, s.now())
		s.flush(ctx, ob)
	}
	return batch, nil
}

// Complete 完工：铸造成品物项，消耗的物料失效；已完工时直接返回
func (s *ProductionService) Complete(ctx context.Context, batchID string, req CompleteBatchReq, actor Actor) (*entity.ProductionBatch, error) {
	notes := strings.TrimSpace(req.QualityNotes)
	if notes == "" {
		return nil, apperr.New(apperr.InvalidInput, "质检记录不能为空")
	}
	var batch *entity.ProductionBatch
	var from entity.BatchStatus
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		batch, err = s.lockBatch(ctx, r, batchID, actor)
		if err != nil {
			return err
		}
		from = batch.Status
		if batch.Status == entity.BatchStatusCompleted {
			return nil
		}
		if !batch.Status.CanTransitionTo(entity.BatchStatusCompleted) {
			return apperr.New(apperr.InvalidTransition, "批次状态 %s 不允许完工", batch.Status)
		}

		consumed := make([]string, 0, len(batch.Materials))
		var parent *entity.LedgerItem
		for _, m := range batch.Materials {
			item, err := r.Ledger.FindItemForUpdate(ctx, m.ConsumedItemID)
			if err != nil {
				return notFound(err, apperr.ItemNotFound, "投料物项", m.ConsumedItemID)
			}
			if item.IsActive {
				if err := s.ledger.deactivateTx(ctx, r, item, entity.ItemStatusCompleted); err != nil {
					return err
				}
			}
			if parent == nil {
				parent = item
			}
			consumed = append(consumed, item.ID)
		}

		p := mintParams{
			OwnerID:       batch.ManufacturerID,
			ItemType:      entity.ItemTypeProduct,
			MaterialID:    batch.ProductID,
			Quantity:      batch.Quantity,
			SupplyChainID: batch.SupplyChainID,
			Status:        entity.ItemStatusCompleted,
			RefType:       entity.RefTypeBatch,
			RefID:         batch.ID,
			Payload:       map[string]string{"batch_code": batch.Code, "consumed_items": strings.Join(consumed, ",")},
		}
		if parent != nil {
			p.ParentItemID = &parent.ID
			p.PrevHash = parent.LastTxHash
			p.SourceItemID = parent.ID
		}
		product, err := s.ledger.mintTx(ctx, r, p)
		if err != nil {
			return err
		}

		now := s.now()
		batch.QualityNotes = notes
		batch.ProductItemID = &product.ID
		batch.CompletedAt = &now
		return s.moveBatch(ctx, r, batch, entity.BatchStatusCompleted, map[string]interface{}{
			"quality_notes":   notes,
			"product_item_id": product.ID,
			"completed_at":    now,
		}, "complete", "完工入库: "+notes, actor)
	})
	if err != nil {
		return nil, err
	}
	if from != entity.BatchStatusCompleted {
		s.logger.Info("production batch completed", zap.String("batch_id", batch.ID), zap.String("quantity", batch.Quantity.String()))
		ob := &outbox{}
		ob.add(events.TopicBatchCompleted, entity.EntityProductionBatch, batch.ID, batch.Code, string(from), string(batch.Status), actor.UserID, s.now())
		s.flush(ctx, ob)
	}
	return batch, nil
}

// Reject 报废：批次终止，已消耗物料不退回
func (s *ProductionService) Reject(ctx context.Context, batchID string, req RejectBatchReq, actor Actor) (*entity.ProductionBatch, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperr.New(apperr.InvalidInput, "报废原因不能为空")
	}
	var batch *entity.ProductionBatch
	var from entity.BatchStatus
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		batch, err = s.lockBatch(ctx, r, batchID, actor)
		if err != nil {
			return err
		}
		from = batch.Status
		if batch.Status == entity.BatchStatusRejected {
			return nil
		}
		if !batch.Status.CanTransitionTo(entity.BatchStatusRejected) {
			return apperr.New(apperr.InvalidTransition, "批次状态 %s 不允许报废", batch.Status)
		}
		for _, m := range batch.Materials {
			item, err := r.Ledger.FindItemForUpdate(ctx, m.ConsumedItemID)
			if err != nil {
				return notFound(err, apperr.ItemNotFound, "投料物项", m.ConsumedItemID)
			}
			if item.IsActive {
				if err := s.ledger.deactivateTx(ctx, r, item, entity.ItemStatusRejected); err != nil {
					return err
				}
			}
		}
		batch.RejectReason = reason
		return s.moveBatch(ctx, r, batch, entity.BatchStatusRejected, map[string]interface{}{"reject_reason": reason}, "reject", "报废: "+reason, actor)
	})
	if err != nil {
		return nil, err
	}
	if from != entity.BatchStatusRejected {
		ob := &outbox{}
		ob.add(events.TopicBatchRejected, entity.EntityProductionBatch, batch.ID, batch.Code, string(from), string(batch.Status), actor.UserID, s.now())
		s.flush(ctx, ob)
	}
	return batch, nil
}

// GetBatch 查询生产批次
func (s *ProductionService) GetBatch(ctx context.Context, id string) (*entity.ProductionBatch, error) {
	b, err := s.repos.Batch.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "生产批次", id)
	}
	return b, nil
}

// ListBatches 查询生产批次列表
func (s *ProductionService) ListBatches(ctx context.Context, f repository.BatchFilter, page repository.Page) ([]entity.ProductionBatch, int64, error) {
	items, total, err := s.repos.Batch.List(ctx, f, page)
	if err != nil {
		return nil, 0, fmt.Errorf("查询生产批次失败: %w", err)
	}
	return items, total, nil
}

// AvailableProductQuantity 制造商在某供应链内可用于履约的成品数量
func (s *ProductionService) AvailableProductQuantity(ctx context.Context, manufacturerID, productID, chainID string) (decimal.Decimal, error) {
	items, err := s.repos.Ledger.ListItems(ctx, availableProducts(manufacturerID, productID, chainID))
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询成品库存失败: %w", err)
	}
	return sumQuantity(items), nil
}

func availableProducts(manufacturerID, productID, chainID string) repository.ItemFilter {
	return repository.ItemFilter{
		OwnerID:       manufacturerID,
		SupplyChainID: chainID,
		MaterialID:    productID,
		ItemType:      entity.ItemTypeProduct,
		Status:        entity.ItemStatusCompleted,
		ActiveOnly:    true,
	}
}

func sumQuantity(items []entity.LedgerItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Quantity)
	}
	return sum
}

func (s *ProductionService) lockBatch(ctx context.Context, r *repository.Repositories, batchID string, actor Actor) (*entity.ProductionBatch, error) {
	batch, err := r.Batch.FindForUpdate(ctx, batchID)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "生产批次", batchID)
	}
	if !actor.Is(batch.ManufacturerID) {
		return nil, apperr.New(apperr.Forbidden, "只有制造商可以操作该批次")
	}
	return batch, nil
}

func (s *ProductionService) moveBatch(ctx context.Context, r *repository.Repositories, batch *entity.ProductionBatch, to entity.BatchStatus, fields map[string]interface{}, action, content string, actor Actor) error {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	from := batch.Status
	if err := r.Batch.UpdateVersioned(ctx, batch, fields); err != nil {
		return conflict(err, "生产批次")
	}
	batch.Status = to
	return r.ActivityLog.LogTransition(ctx, entity.EntityProductionBatch, batch.ID, batch.Code, action, string(from), string(to), content, actor.UserID)
}
