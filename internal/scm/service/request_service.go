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

// RequestService 物料申请与审批：制造商申请，供应商审批并分配（铸造台账物项）
type RequestService struct {
	base
	ledger *LedgerService
	chain  *ChainService
}

type RequestItemReq struct {
	MaterialID   string          `json:"material_id" binding:"required"`
	MaterialName string          `json:"material_name"`
	Unit         string          `json:"unit"`
	Quantity     decimal.Decimal `json:"quantity"`
}

type CreateRequestReq struct {
	SupplierID     string           `json:"supplier_id" binding:"required"`
	SupplyChainID  string           `json:"supply_chain_id" binding:"required"`
	ManufacturerID string           `json:"manufacturer_id"` // 仅管理员代填
	Notes          string           `json:"notes"`
	Items          []RequestItemReq `json:"items"`
}

type ApprovalReq struct {
	ItemID           string          `json:"item_id" binding:"required"`
	ApprovedQuantity decimal.Decimal `json:"approved_quantity"`
}

type ApproveReq struct {
	Approvals []ApprovalReq `json:"approvals"`
}

// CreateRequest 创建物料申请：供应链已定稿，且供应商到制造商之间存在物流路径
func (s *RequestService) CreateRequest(ctx context.Context, req CreateRequestReq, actor Actor) (*entity.MaterialRequest, error) {
	manufacturerID := actor.resolve(req.ManufacturerID)
	if manufacturerID == "" || req.SupplierID == "" {
		return nil, apperr.New(apperr.InvalidInput, "供应商与制造商不能为空")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "申请明细不能为空")
	}
	for i, it := range req.Items {
		if strings.TrimSpace(it.MaterialID) == "" {
			return nil, apperr.New(apperr.InvalidInput, "第%d行物料不能为空", i+1)
		}
		if !it.Quantity.IsPositive() {
			return nil, apperr.New(apperr.InvalidInput, "第%d行申请数量必须大于0", i+1)
		}
	}

	now := s.now()
	mr := &entity.MaterialRequest{
		ID:             uuid.New().String(),
		Code:           idgen.MustGenerate(idgen.PrefixRequest, now),
		SupplierID:     req.SupplierID,
		ManufacturerID: manufacturerID,
		SupplyChainID:  req.SupplyChainID,
		Status:         entity.RequestStatusRequested,
		Notes:          req.Notes,
		Version:        1,
	}
	for i, it := range req.Items {
		mr.Items = append(mr.Items, entity.MaterialRequestItem{
			ID:                uuid.New().String(),
			RequestID:         mr.ID,
			LineNo:            i + 1,
			MaterialID:        it.MaterialID,
			MaterialName:      it.MaterialName,
			Unit:              it.Unit,
			RequestedQuantity: it.Quantity,
			ApprovedQuantity:  decimal.Zero,
			AllocatedQuantity: decimal.Zero,
			Status:            entity.RequestStatusRequested,
		})
	}

	err := s.transaction(ctx, func(r *repository.Repositories) error {
		chain, err := s.chain.loadOperational(ctx, r, req.SupplyChainID)
		if err != nil {
			return err
		}
		if len(nodesOf(chain, req.SupplierID, entity.RoleSupplier)) == 0 {
			return apperr.New(apperr.InvalidTopology, "用户 %s 不是该供应链的供应商", req.SupplierID)
		}
		if len(nodesOf(chain, manufacturerID, entity.RoleManufacturer)) == 0 {
			return apperr.New(apperr.InvalidTopology, "用户 %s 不是该供应链的制造商", manufacturerID)
		}
		if !hasFlow(chain, req.SupplierID, entity.RoleSupplier, manufacturerID, entity.RoleManufacturer) {
			return apperr.New(apperr.InvalidTopology, "供应商 %s 与制造商 %s 之间没有物流路径", req.SupplierID, manufacturerID)
		}
		if err := r.Request.Create(ctx, mr); err != nil {
			return fmt.Errorf("创建物料申请失败: %w", err)
		}
		return r.ActivityLog.LogTransition(ctx, entity.EntityMaterialRequest, mr.ID, mr.Code, "create", "", string(mr.Status),
			fmt.Sprintf("申请物料 %d 项，供应商: %s", len(mr.Items), req.SupplierID), actor.UserID)
	})
	if err != nil {
		return nil, err
	}

	ob := &outbox{}
	ob.add(events.TopicRequestCreated, entity.EntityMaterialRequest, mr.ID, mr.Code, "", string(mr.Status), actor.UserID, now)
	s.flush(ctx, ob)
	return mr, nil
}

// Approve 供应商审批：每个明细必须且只能决定一次，批准量不超过申请量，0 表示驳回
func (s *RequestService) Approve(ctx context.Context, requestID string, req ApproveReq, actor Actor) (*entity.MaterialRequest, error) {
	var mr *entity.MaterialRequest
	var from entity.RequestStatus
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		mr, err = r.Request.FindForUpdate(ctx, requestID)
		if err != nil {
			return notFound(err, apperr.NotFound, "物料申请", requestID)
		}
		if !actor.Is(mr.SupplierID) {
			return apperr.New(apperr.Forbidden, "只有供应商可以审批该申请")
		}
		if mr.Status != entity.RequestStatusRequested {
			return apperr.New(apperr.InvalidTransition, "申请状态 %s 不允许审批", mr.Status)
		}

		decisions, err := validateApprovals(mr.Items, req.Approvals)
		if err != nil {
			return err
		}
		for i := range mr.Items {
			item := &mr.Items[i]
			item.ApprovedQuantity = decisions[item.ID]
			if item.ApprovedQuantity.IsZero() {
				item.Status = entity.RequestStatusRejected
			} else {
				item.Status = entity.RequestStatusApproved
			}
			if err := r.Request.SaveItem(ctx, item); err != nil {
				return fmt.Errorf("更新申请明细失败: %w", err)
			}
		}
		from = mr.Status
		return s.advance(ctx, r, mr, "approve", "供应商审批", actor)
	})
	if err != nil {
		return nil, err
	}

	topic := events.TopicRequestApproved
	if mr.Status == entity.RequestStatusRejected {
		topic = events.TopicRequestRejected
	}
	ob := &outbox{}
	ob.add(topic, entity.EntityMaterialRequest, mr.ID, mr.Code, string(from), string(mr.Status), actor.UserID, s.now())
	s.flush(ctx, ob)
	return mr, nil
}

func validateApprovals(items []entity.MaterialRequestItem, approvals []ApprovalReq) (map[string]decimal.Decimal, error) {
	requested := make(map[string]decimal.Decimal, len(items))
	for _, it := range items {
		requested[it.ID] = it.RequestedQuantity
	}
	decisions := make(map[string]decimal.Decimal, len(approvals))
	for _, a := range approvals {
		want, ok := requested[a.ItemID]
		if !ok {
			return nil, apperr.New(apperr.InvalidApproval, "明细 %s 不属于该申请", a.ItemID)
		}
		if _, dup := decisions[a.ItemID]; dup {
			return nil, apperr.New(apperr.InvalidApproval, "明细 %s 重复审批", a.ItemID)
		}
		if a.ApprovedQuantity.IsNegative() {
			return nil, apperr.New(apperr.InvalidApproval, "明细 %s 批准数量不能为负", a.ItemID)
		}
		if a.ApprovedQuantity.GreaterThan(want) {
			return nil, apperr.New(apperr.InvalidApproval, "明细 %s 批准数量 %s 超过申请数量 %s", a.ItemID, a.ApprovedQuantity, want)
		}
		decisions[a.ItemID] = a.ApprovedQuantity
	}
	if len(decisions) != len(items) {
		return nil, apperr.New(apperr.InvalidApproval, "需要对全部 %d 个明细给出审批结果", len(items))
	}
	return decisions, nil
}

// Allocate 分配：为每个已批准明细铸造一条归供应商所有的分配物料；已分配（或更后）时直接返回
func (s *RequestService) Allocate(ctx context.Context, requestID string, actor Actor) (*entity.MaterialRequest, error) {
	var mr *entity.MaterialRequest
	changed := false
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		mr, err = r.Request.FindForUpdate(ctx, requestID)
		if err != nil {
			return notFound(err, apperr.NotFound, "物料申请", requestID)
		}
		if !actor.Is(mr.SupplierID) {
			return apperr.New(apperr.Forbidden, "只有供应商可以分配物料")
		}
		if mr.Status.AtLeast(entity.RequestStatusAllocated) {
			return nil
		}
		if mr.Status != entity.RequestStatusApproved {
			return apperr.New(apperr.InvalidTransition, "申请状态 %s 不允许分配", mr.Status)
		}

		for i := range mr.Items {
			item := &mr.Items[i]
			if item.Status != entity.RequestStatusApproved || item.BlockchainItemID != nil {
				continue
			}
			lot, err := s.ledger.mintTx(ctx, r, mintParams{
				OwnerID:       mr.SupplierID,
				ItemType:      entity.ItemTypeAllocatedMaterial,
				MaterialID:    item.MaterialID,
				Quantity:      item.ApprovedQuantity,
				SupplyChainID: mr.SupplyChainID,
				Status:        entity.ItemStatusAllocated,
				RefType:       entity.RefTypeRequest,
				RefID:         mr.ID,
				Payload:       map[string]string{"request_code": mr.Code, "request_item_id": item.ID, "manufacturer_id": mr.ManufacturerID},
			})
			if err != nil {
				return err
			}
			item.AllocatedQuantity = item.ApprovedQuantity
			item.BlockchainItemID = &lot.ID
			item.Status = entity.RequestStatusAllocated
			if err := r.Request.SaveItem(ctx, item); err != nil {
				return fmt.Errorf("更新申请明细失败: %w", err)
			}
			if lot.LastTxHash != "" {
				mr.BlockchainTxHash = lot.LastTxHash
			}
		}
		changed = true
		return s.advance(ctx, r, mr, "allocate", "供应商分配物料", actor)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger.Info("material request allocated", zap.String("request_id", mr.ID), zap.String("tx_hash", mr.BlockchainTxHash))
		ob := &outbox{}
		ob.add(events.TopicRequestAllocated, entity.EntityMaterialRequest, mr.ID, mr.Code, string(entity.RequestStatusApproved), string(mr.Status), actor.UserID, s.now())
		s.flush(ctx, ob)
	}
	return mr, nil
}

// GetRequest 查询物料申请
func (s *RequestService) GetRequest(ctx context.Context, requestID string) (*entity.MaterialRequest, error) {
	mr, err := s.repos.Request.FindByID(ctx, requestID)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "物料申请", requestID)
	}
	return mr, nil
}

// ListRequests 查询物料申请列表
func (s *RequestService) ListRequests(ctx context.Context, f repository.RequestFilter, page repository.Page) ([]entity.MaterialRequest, int64, error) {
	items, total, err := s.repos.Request.List(ctx, f, page)
	if err != nil {
		return nil, 0, fmt.Errorf("查询物料申请失败: %w", err)
	}
	return items, total, nil
}

// advance 由明细推导申请单状态并持久化；状态只能前进
func (s *RequestService) advance(ctx context.Context, r *repository.Repositories, mr *entity.MaterialRequest, action, content string, actor Actor) error {
	from := mr.Status
	to := entity.DeriveRequestStatus(mr.Items)
	if to != from && !from.CanAdvanceTo(to) {
		return apperr.New(apperr.InvalidTransition, "申请状态不能从 %s 回退到 %s", from, to)
	}
	if err := r.Request.UpdateVersioned(ctx, mr, map[string]interface{}{
		"status":             to,
		"blockchain_tx_hash": mr.BlockchainTxHash,
	}); err != nil {
		return conflict(err, "物料申请")
	}
	mr.Status = to
	if to == from {
		return nil
	}
	return r.ActivityLog.LogTransition(ctx, entity.EntityMaterialRequest, mr.ID, mr.Code, action, string(from), string(to), content, actor.UserID)
}
