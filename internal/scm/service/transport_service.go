package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/shared/idgen"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransportService 运输协调：排程、提货、送达，并联动物料申请或订单及台账
type TransportService struct {
	base
	ledger *LedgerService
	chain  *ChainService
}

type ScheduleReq struct {
	Type                  string `json:"type" binding:"required"`
	DistributorID         string `json:"distributor_id"`
	SourceNodeID          string `json:"source_node_id" binding:"required"`
	DestinationNodeID     string `json:"destination_node_id" binding:"required"`
	RelatedID             string `json:"related_id" binding:"required"`
	ScheduledPickupDate   string `json:"scheduled_pickup_date" binding:"required"`
	ScheduledDeliveryDate string `json:"scheduled_delivery_date" binding:"required"`
}

type scheduleParams struct {
	Type              entity.TransportType
	DistributorID     string
	SourceNodeID      string
	DestinationNodeID string
	SupplyChainID     string
	RequestID         string
	OrderID           string
	Pickup            time.Time
	Delivery          time.Time
}

// Schedule 排程运输
func (s *TransportService) Schedule(ctx context.Context, req ScheduleReq, actor Actor) (*entity.Transport, error) {
	typ, err := entity.ParseTransportType(req.Type)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "运输类型 %s 无效", req.Type)
	}
	distributorID := actor.resolve(req.DistributorID)
	if distributorID == "" {
		return nil, apperr.New(apperr.InvalidInput, "承运商不能为空")
	}
	pickup, delivery, err := s.parseSchedule(req.ScheduledPickupDate, req.ScheduledDeliveryDate)
	if err != nil {
		return nil, err
	}

	p := scheduleParams{
		Type:              typ,
		DistributorID:     distributorID,
		SourceNodeID:      req.SourceNodeID,
		DestinationNodeID: req.DestinationNodeID,
		Pickup:            pickup,
		Delivery:          delivery,
	}
	var t *entity.Transport
	ob := &outbox{}
	err = s.transaction(ctx, func(r *repository.Repositories) error {
		switch typ {
		case entity.TransportTypeMaterial:
			mr, err := r.Request.FindForUpdate(ctx, req.RelatedID)
			if err != nil {
				return notFound(err, apperr.NotFound, "物料申请", req.RelatedID)
			}
			p.RequestID = mr.ID
			p.SupplyChainID = mr.SupplyChainID
		case entity.TransportTypeProduct:
			order, err := r.Order.FindForUpdate(ctx, req.RelatedID)
			if err != nil {
				return notFound(err, apperr.NotFound, "订单", req.RelatedID)
			}
			if order.Status != entity.OrderStatusReadyForShipment {
				return apperr.New(apperr.InvalidTransition, "订单状态 %s 不允许排程配送", order.Status)
			}
			p.OrderID = order.ID
			p.SupplyChainID = order.SupplyChainID
		}
		t, err = s.scheduleTx(ctx, r, p, actor, ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return t, nil
}

// parseSchedule 提货日不早于今天，送达日晚于提货日
func (s *TransportService) parseSchedule(pickupStr, deliveryStr string) (time.Time, time.Time, error) {
	pickup, err := parseDate(pickupStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.InvalidSchedule, "提货日期 %s 格式无效", pickupStr)
	}
	delivery, err := parseDate(deliveryStr)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.InvalidSchedule, "送达日期 %s 格式无效", deliveryStr)
	}
	today := startOfDay(s.now().UTC())
	if startOfDay(pickup.UTC()).Before(today) {
		return time.Time{}, time.Time{}, apperr.New(apperr.InvalidSchedule, "提货日期不能早于今天")
	}
	if !delivery.After(pickup) {
		return time.Time{}, time.Time{}, apperr.New(apperr.InvalidSchedule, "送达日期必须晚于提货日期")
	}
	return pickup, delivery, nil
}

// scheduleTx 校验节点与关联单据后创建运输单；调用方已锁定关联单据
func (s *TransportService) scheduleTx(ctx context.Context, r *repository.Repositories, p scheduleParams, actor Actor, ob *outbox) (*entity.Transport, error) {
	chain, err := s.chain.loadOperational(ctx, r, p.SupplyChainID)
	if err != nil {
		return nil, err
	}
	if len(nodesOf(chain, p.DistributorID, entity.RoleDistributor)) == 0 {
		return nil, apperr.New(apperr.InvalidTopology, "用户 %s 不是该供应链的承运商", p.DistributorID)
	}
	if p.SourceNodeID == p.DestinationNodeID {
		return nil, apperr.New(apperr.InvalidTopology, "起点与终点不能相同")
	}
	for _, id := range []string{p.SourceNodeID, p.DestinationNodeID} {
		if findNode(chain, id) == nil {
			return nil, apperr.New(apperr.InvalidTopology, "节点 %s 不属于供应链 %s", id, chain.Code)
		}
	}

	var live *entity.Transport
	if p.RequestID != "" {
		live, err = r.Transport.FindLiveByRequest(ctx, p.RequestID)
	} else {
		live, err = r.Transport.FindLiveByOrder(ctx, p.OrderID)
	}
	if err == nil && live != nil {
		return nil, apperr.New(apperr.InvalidTransition, "已存在进行中的运输 %s", live.Code)
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("查询运输失败: %w", err)
	}

	now := s.now()
	t := &entity.Transport{
		ID:                    uuid.New().String(),
		Code:                  idgen.MustGenerate(idgen.PrefixTransport, now),
		DistributorID:         p.DistributorID,
		Type:                  p.Type,
		SupplyChainID:         p.SupplyChainID,
		SourceNodeID:          p.SourceNodeID,
		DestinationNodeID:     p.DestinationNodeID,
		Status:                entity.TransportStatusScheduled,
		ScheduledPickupDate:   p.Pickup,
		ScheduledDeliveryDate: p.Delivery,
		Version:               1,
	}
	if p.RequestID != "" {
		t.RelatedRequestID = &p.RequestID
		if err := s.requestReadyForPickup(ctx, r, p.RequestID, actor, ob); err != nil {
			return nil, err
		}
	} else {
		t.RelatedOrderID = &p.OrderID
	}

	if err := r.Transport.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("创建运输单失败: %w", err)
	}
	if err := r.ActivityLog.LogTransition(ctx, entity.EntityTransport, t.ID, t.Code, "schedule", "", string(t.Status),
		fmt.Sprintf("%s，提货 %s，送达 %s", t.Type, p.Pickup.Format("2006-01-02"), p.Delivery.Format("2006-01-02")), actor.UserID); err != nil {
		return nil, err
	}
	ob.add(events.TopicTransportScheduled, entity.EntityTransport, t.ID, t.Code, "", string(t.Status), actor.UserID, now)
	return t, nil
}

// requestReadyForPickup 已分配的申请进入待提货；运输取消后仍处于待提货的申请可重新排程
func (s *TransportService) requestReadyForPickup(ctx context.Context, r *repository.Repositories, requestID string, actor Actor, ob *outbox) error {
	mr, err := r.Request.FindForUpdate(ctx, requestID)
	if err != nil {
		return notFound(err, apperr.NotFound, "物料申请", requestID)
	}
	switch mr.Status {
	case entity.RequestStatusAllocated:
	case entity.RequestStatusReadyForPickup:
		return nil
	default:
		return apperr.New(apperr.InvalidTransition, "申请状态 %s 不允许排程运输", mr.Status)
	}
	return s.moveRequestItems(ctx, r, mr, entity.RequestStatusAllocated, entity.RequestStatusReadyForPickup, "schedule_transport", actor, ob)
}

// moveRequestItems 将处于 from 状态的明细推进到 to，并重新推导申请单状态
func (s *TransportService) moveRequestItems(ctx context.Context, r *repository.Repositories, mr *entity.MaterialRequest, from, to entity.RequestStatus, action string, actor Actor, ob *outbox) error {
	for i := range mr.Items {
		item := &mr.Items[i]
		if item.Status != from {
			continue
		}
		item.Status = to
		if err := r.Request.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("更新申请明细失败: %w", err)
		}
	}
	prev := mr.Status
	next := entity.DeriveRequestStatus(mr.Items)
	if next != prev && !prev.CanAdvanceTo(next) {
		return apperr.New(apperr.InvalidTransition, "申请状态不能从 %s 回退到 %s", prev, next)
	}
	if err := r.Request.UpdateVersioned(ctx, mr, map[string]interface{}{"status": next}); err != nil {
		return conflict(err, "物料申请")
	}
	mr.Status = next
	if next == prev {
		return nil
	}
	ob.add(events.TopicRequestUpdated, entity.EntityMaterialRequest, mr.ID, mr.Code, string(prev), string(next), actor.UserID, s.now())
	return r.ActivityLog.LogTransition(ctx, entity.EntityMaterialRequest, mr.ID, mr.Code, action, string(prev), string(next), "", actor.UserID)
}

// RecordPickup 提货：Scheduled → In Transit；重复调用直接返回
func (s *TransportService) RecordPickup(ctx context.Context, transportID string, actor Actor) (*entity.Transport, error) {
	var t *entity.Transport
	ob := &outbox{}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		t, err = s.lockTransport(ctx, r, transportID, actor)
		if err != nil {
			return err
		}
		switch t.Status {
		case entity.TransportStatusInTransit, entity.TransportStatusDelivered, entity.TransportStatusConfirmed:
			return nil
		case entity.TransportStatusScheduled:
		default:
			return apperr.New(apperr.InvalidTransition, "运输状态 %s 不允许提货", t.Status)
		}

		now := s.now()
		if t.RelatedRequestID != nil {
			if err := s.pickupRequest(ctx, r, *t.RelatedRequestID, actor, ob); err != nil {
				return err
			}
		}
		if t.RelatedOrderID != nil {
			if err := s.pickupOrder(ctx, r, *t.RelatedOrderID, actor, ob); err != nil {
				return err
			}
		}
		t.PickedUpAt = &now
		return s.moveTransport(ctx, r, t, entity.TransportStatusInTransit, map[string]interface{}{"picked_up_at": now}, "pickup", actor, ob)
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return t, nil
}

func (s *TransportService) pickupRequest(ctx context.Context, r *repository.Repositories, requestID string, actor Actor, ob *outbox) error {
	mr, err := r.Request.FindForUpdate(ctx, requestID)
	if err != nil {
		return notFound(err, apperr.NotFound, "物料申请", requestID)
	}
	for _, item := range mr.Items {
		if item.Status != entity.RequestStatusReadyForPickup || item.BlockchainItemID == nil {
			continue
		}
		lot, err := r.Ledger.FindItemForUpdate(ctx, *item.BlockchainItemID)
		if err != nil {
			return notFound(err, apperr.ItemNotFound, "分配物料", *item.BlockchainItemID)
		}
		if !lot.IsActive {
			continue
		}
		if err := s.ledger.setStatusTx(ctx, r, lot, entity.ItemStatusInTransit, entity.TxOpStatus, lot.ReferenceType, lot.ReferenceID); err != nil {
			return err
		}
	}
	return s.moveRequestItems(ctx, r, mr, entity.RequestStatusReadyForPickup, entity.RequestStatusInTransit, "pickup", actor, ob)
}

func (s *TransportService) pickupOrder(ctx context.Context, r *repository.Repositories, orderID string, actor Actor, ob *outbox) error {
	order, err := r.Order.FindForUpdate(ctx, orderID)
	if err != nil {
		return notFound(err, apperr.NotFound, "订单", orderID)
	}
	if !order.Status.CanTransitionTo(entity.OrderStatusInTransit) {
		return apperr.New(apperr.InvalidTransition, "订单状态 %s 不允许提货", order.Status)
	}
	reserved, err := r.Ledger.ListItemsForUpdate(ctx, repository.ItemFilter{
		ReferenceType: entity.RefTypeOrder,
		ReferenceID:   order.ID,
		Status:        entity.ItemStatusReserved,
		ActiveOnly:    true,
	})
	if err != nil {
		return fmt.Errorf("查询预留成品失败: %w", err)
	}
	for i := range reserved {
		if err := s.ledger.setStatusTx(ctx, r, &reserved[i], entity.ItemStatusInTransit, entity.TxOpStatus, entity.RefTypeOrder, order.ID); err != nil {
			return err
		}
	}
	return moveOrder(ctx, r, order, entity.OrderStatusInTransit, nil, "pickup", actor, ob, s.now())
}

// RecordDelivery 送达：In Transit → Delivered；物料转给制造商，成品转给客户；重复调用直接返回
func (s *TransportService) RecordDelivery(ctx context.Context, transportID string, actor Actor) (*entity.Transport, error) {
	var t *entity.Transport
	ob := &outbox{}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		t, err = s.lockTransport(ctx, r, transportID, actor)
		if err != nil {
			return err
		}
		switch t.Status {
		case entity.TransportStatusDelivered, entity.TransportStatusConfirmed:
			return nil
		case entity.TransportStatusInTransit:
		default:
			return apperr.New(apperr.InvalidTransition, "运输状态 %s 不允许送达", t.Status)
		}

		now := s.now()
		if t.RelatedRequestID != nil {
			if err := s.deliverRequest(ctx, r, *t.RelatedRequestID, actor, ob); err != nil {
				return err
			}
		}
		if t.RelatedOrderID != nil {
			if err := s.deliverOrder(ctx, r, *t.RelatedOrderID, actor, ob); err != nil {
				return err
			}
		}
		t.DeliveredAt = &now
		return s.moveTransport(ctx, r, t, entity.TransportStatusDelivered, map[string]interface{}{"delivered_at": now}, "delivery", actor, ob)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("transport delivered", zap.String("transport_id", t.ID), zap.String("type", string(t.Type)))
	s.flush(ctx, ob)
	return t, nil
}

func (s *TransportService) deliverRequest(ctx context.Context, r *repository.Repositories, requestID string, actor Actor, ob *outbox) error {
	mr, err := r.Request.FindForUpdate(ctx, requestID)
	if err != nil {
		return notFound(err, apperr.NotFound, "物料申请", requestID)
	}
	for i := range mr.Items {
		item := &mr.Items[i]
		if item.Status != entity.RequestStatusInTransit || item.BlockchainItemID == nil || item.ReceivedItemID != nil {
			continue
		}
		lot, err := r.Ledger.FindItemForUpdate(ctx, *item.BlockchainItemID)
		if err != nil {
			return notFound(err, apperr.ItemNotFound, "分配物料", *item.BlockchainItemID)
		}
		if !lot.IsActive || !lot.Quantity.IsPositive() {
			continue
		}
		res, err := s.ledger.transferTx(ctx, r, lot.ID, mr.ManufacturerID, lot.Quantity, transferOpts{
			Status:  entity.ItemStatusCompleted,
			RefType: entity.RefTypeRequest,
			RefID:   mr.ID,
			Payload: map[string]string{"request_code": mr.Code, "delivery": "material"},
		})
		if err != nil {
			return err
		}
		item.ReceivedItemID = &res.Transferred.ID
		if err := r.Request.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("更新申请明细失败: %w", err)
		}
	}
	return s.moveRequestItems(ctx, r, mr, entity.RequestStatusInTransit, entity.RequestStatusDelivered, "delivery", actor, ob)
}

func (s *TransportService) deliverOrder(ctx context.Context, r *repository.Repositories, orderID string, actor Actor, ob *outbox) error {
	order, err := r.Order.FindForUpdate(ctx, orderID)
	if err != nil {
		return notFound(err, apperr.NotFound, "订单", orderID)
	}
	if !order.Status.CanTransitionTo(entity.OrderStatusDelivered) {
		return apperr.New(apperr.InvalidTransition, "订单状态 %s 不允许送达", order.Status)
	}
	shipped, err := r.Ledger.ListItemsForUpdate(ctx, repository.ItemFilter{
		ReferenceType: entity.RefTypeOrder,
		ReferenceID:   order.ID,
		Status:        entity.ItemStatusInTransit,
		ActiveOnly:    true,
	})
	if err != nil {
		return fmt.Errorf("查询在途成品失败: %w", err)
	}
	for _, it := range shipped {
		if _, err := s.ledger.transferTx(ctx, r, it.ID, order.CustomerID, it.Quantity, transferOpts{
			Status:  entity.ItemStatusCompleted,
			RefType: entity.RefTypeOrder,
			RefID:   order.ID,
			Payload: map[string]string{"order_code": order.Code, "delivery": "product"},
		}); err != nil {
			return err
		}
	}
	now := s.now()
	return moveOrder(ctx, r, order, entity.OrderStatusDelivered, map[string]interface{}{"delivered_at": now}, "delivery", actor, ob, now)
}

// Cancel 取消未提货的运输
func (s *TransportService) Cancel(ctx context.Context, transportID string, actor Actor) (*entity.Transport, error) {
	var t *entity.Transport
	ob := &outbox{}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		t, err = s.lockTransport(ctx, r, transportID, actor)
		if err != nil {
			return err
		}
		if t.Status == entity.TransportStatusCancelled {
			return nil
		}
		return s.cancelTx(ctx, r, t, actor, ob)
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return t, nil
}

func (s *TransportService) cancelTx(ctx context.Context, r *repository.Repositories, t *entity.Transport, actor Actor, ob *outbox) error {
	if !t.Status.CanTransitionTo(entity.TransportStatusCancelled) {
		return apperr.New(apperr.InvalidTransition, "运输状态 %s 不允许取消", t.Status)
	}
	return s.moveTransport(ctx, r, t, entity.TransportStatusCancelled, nil, "cancel", actor, ob)
}

// GetTransport 查询运输单
func (s *TransportService) GetTransport(ctx context.Context, id string) (*entity.Transport, error) {
	t, err := s.repos.Transport.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "运输单", id)
	}
	return t, nil
}

// ListTransports 查询运输单列表
func (s *TransportService) ListTransports(ctx context.Context, f repository.TransportFilter, page repository.Page) ([]entity.Transport, int64, error) {
	items, total, err := s.repos.Transport.List(ctx, f, page)
	if err != nil {
		return nil, 0, fmt.Errorf("查询运输单失败: %w", err)
	}
	return items, total, nil
}

func (s *TransportService) lockTransport(ctx context.Context, r *repository.Repositories, id string, actor Actor) (*entity.Transport, error) {
	t, err := r.Transport.FindForUpdate(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "运输单", id)
	}
	if !actor.Is(t.DistributorID) {
		return nil, apperr.New(apperr.Forbidden, "只有承运商可以操作该运输单")
	}
	return t, nil
}

func (s *TransportService) moveTransport(ctx context.Context, r *repository.Repositories, t *entity.Transport, to entity.TransportStatus, fields map[string]interface{}, action string, actor Actor, ob *outbox) error {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	from := t.Status
	if err := r.Transport.UpdateVersioned(ctx, t, fields); err != nil {
		return conflict(err, "运输单")
	}
	t.Status = to
	topic := map[entity.TransportStatus]string{
		entity.TransportStatusInTransit: events.TopicTransportPickedUp,
		entity.TransportStatusDelivered: events.TopicTransportDelivered,
		entity.TransportStatusCancelled: events.TopicTransportCancelled,
	}[to]
	if topic != "" {
		ob.add(topic, entity.EntityTransport, t.ID, t.Code, string(from), string(to), actor.UserID, s.now())
	}
	return r.ActivityLog.LogTransition(ctx, entity.EntityTransport, t.ID, t.Code, action, string(from), string(to), "", actor.UserID)
}
