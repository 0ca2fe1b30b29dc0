package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/shared/idgen"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService 订单履约：下单、库存履约、取消与签收
type OrderService struct {
	base
	ledger    *LedgerService
	chain     *ChainService
	transport *TransportService
}

type OrderItemReq struct {
	ProductID string          `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type CreateOrderReq struct {
	SupplyChainID         string         `json:"supply_chain_id" binding:"required"`
	CustomerID            string         `json:"customer_id"`
	ShippingAddress       string         `json:"shipping_address"`
	RequestedDeliveryDate string         `json:"requested_delivery_date"`
	Items                 []OrderItemReq `json:"items" binding:"required"`
}

type FulfillReq struct {
	DistributorID         string `json:"distributor_id" binding:"required"`
	ManufacturerID        string `json:"manufacturer_id"`
	ScheduledPickupDate   string `json:"scheduled_pickup_date"`
	ScheduledDeliveryDate string `json:"scheduled_delivery_date"`
}

// FulfillResult 履约结果
type FulfillResult struct {
	Order     *entity.Order       `json:"order"`
	Transport *entity.Transport   `json:"transport,omitempty"`
	Reserved  []entity.LedgerItem `json:"reserved,omitempty"`
}

// CreateOrder 客户下单，不预留库存
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderReq, actor Actor) (*entity.Order, error) {
	customerID := actor.resolve(req.CustomerID)
	if customerID == "" {
		return nil, apperr.New(apperr.InvalidInput, "客户不能为空")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "订单明细不能为空")
	}
	var requested *time.Time
	if strings.TrimSpace(req.RequestedDeliveryDate) != "" {
		d, err := parseDate(req.RequestedDeliveryDate)
		if err != nil {
			return nil, apperr.New(apperr.InvalidSchedule, "期望交付日期 %s 格式无效", req.RequestedDeliveryDate)
		}
		requested = &d
	}

	now := s.now()
	order := &entity.Order{
		ID:                    uuid.New().String(),
		Code:                  idgen.MustGenerate(idgen.PrefixOrder, now),
		CustomerID:            customerID,
		SupplyChainID:         req.SupplyChainID,
		Status:                entity.OrderStatusRequested,
		ShippingAddress:       req.ShippingAddress,
		RequestedDeliveryDate: requested,
		TotalAmount:           decimal.Zero,
		Version:               1,
	}
	for i, it := range req.Items {
		if !it.Quantity.IsPositive() {
			return nil, apperr.New(apperr.InvalidInput, "第 %d 行数量必须大于0", i+1)
		}
		if it.Price.IsNegative() {
			return nil, apperr.New(apperr.InvalidInput, "第 %d 行单价不能为负", i+1)
		}
		order.Items = append(order.Items, entity.OrderItem{
			ID:        uuid.New().String(),
			OrderID:   order.ID,
			LineNo:    i + 1,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
		order.TotalAmount = order.TotalAmount.Add(it.Quantity.Mul(it.Price))
	}

	err := s.transaction(ctx, func(r *repository.Repositories) error {
		chain, err := s.chain.loadOperational(ctx, r, req.SupplyChainID)
		if err != nil {
			return err
		}
		if len(nodesOf(chain, customerID, entity.RoleCustomer)) == 0 {
			return apperr.New(apperr.InvalidTopology, "用户 %s 不是该供应链的客户", customerID)
		}
		for _, it := range order.Items {
			if _, err := r.Product.FindByID(ctx, it.ProductID); err != nil {
				return notFound(err, apperr.NotFound, "产品", it.ProductID)
			}
		}
		if err := r.Order.Create(ctx, order); err != nil {
			return fmt.Errorf("创建订单失败: %w", err)
		}
		return r.ActivityLog.LogTransition(ctx, entity.EntityOrder, order.ID, order.Code, "create", "", string(order.Status),
			fmt.Sprintf("下单 %d 行，金额 %s", len(order.Items), order.TotalAmount.StringFixed(2)), actor.UserID)
	})
	if err != nil {
		return nil, err
	}

	ob := &outbox{}
	ob.add(events.TopicOrderCreated, entity.EntityOrder, order.ID, order.Code, "", string(order.Status), actor.UserID, now)
	s.flush(ctx, ob)
	return order, nil
}

// FulfillFromStock 用制造商成品库存履约：按先进先出预留成品，排程配送运输，订单进入待发货
func (s *OrderService) FulfillFromStock(ctx context.Context, orderID string, req FulfillReq, actor Actor) (*FulfillResult, error) {
	if req.DistributorID == "" {
		return nil, apperr.New(apperr.InvalidInput, "承运商不能为空")
	}
	result := &FulfillResult{}
	ob := &outbox{}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		order, err := r.Order.FindForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, apperr.NotFound, "订单", orderID)
		}
		result.Order = order
		if order.Status == entity.OrderStatusReadyForShipment {
			return nil
		}
		if !order.Status.CanTransitionTo(entity.OrderStatusReadyForShipment) {
			return apperr.New(apperr.InvalidTransition, "订单状态 %s 不允许履约", order.Status)
		}

		chain, err := s.chain.loadOperational(ctx, r, order.SupplyChainID)
		if err != nil {
			return err
		}
		if len(nodesOf(chain, req.DistributorID, entity.RoleDistributor)) == 0 {
			return apperr.New(apperr.InvalidTopology, "用户 %s 不是该供应链的承运商", req.DistributorID)
		}
		customerNodes := nodesOf(chain, order.CustomerID, entity.RoleCustomer)
		if len(customerNodes) == 0 {
			return apperr.New(apperr.InvalidTopology, "客户 %s 不在供应链中", order.CustomerID)
		}

		pickup, delivery, err := s.schedule(order, req)
		if err != nil {
			return err
		}

		candidates, err := s.manufacturerCandidates(chain, order, req, actor)
		if err != nil {
			return err
		}
		need := requiredProducts(order)
		var manufacturerID string
		var stock map[string][]entity.LedgerItem
		for _, m := range candidates {
			lots, ok, err := s.coverage(ctx, r, m, order.SupplyChainID, need)
			if err != nil {
				return err
			}
			if ok {
				manufacturerID, stock = m, lots
				break
			}
		}
		if manufacturerID == "" {
			return apperr.New(apperr.InsufficientInventory, "没有制造商的成品库存能满足订单 %s", order.Code)
		}

		for _, productID := range need.order {
			remaining := need.qty[productID]
			for _, lot := range stock[productID] {
				if !remaining.IsPositive() {
					break
				}
				take := decimal.Min(remaining, lot.Quantity)
				res, err := s.ledger.transferTx(ctx, r, lot.ID, manufacturerID, take, transferOpts{
					Status:  entity.ItemStatusReserved,
					RefType: entity.RefTypeOrder,
					RefID:   order.ID,
					Payload: map[string]string{"order_code": order.Code, "reserve": "fifo"},
				})
				if err != nil {
					return err
				}
				result.Reserved = append(result.Reserved, *res.Transferred)
				remaining = remaining.Sub(take)
			}
		}

		if err := moveOrder(ctx, r, order, entity.OrderStatusReadyForShipment, map[string]interface{}{
			"manufacturer_id": manufacturerID,
			"distributor_id":  req.DistributorID,
		}, "fulfill", actor, ob, s.now()); err != nil {
			return err
		}
		order.ManufacturerID = manufacturerID
		order.DistributorID = req.DistributorID

		source := nodesOf(chain, manufacturerID, entity.RoleManufacturer)[0]
		result.Transport, err = s.transport.scheduleTx(ctx, r, scheduleParams{
			Type:              entity.TransportTypeProduct,
			DistributorID:     req.DistributorID,
			SourceNodeID:      source.ID,
			DestinationNodeID: customerNodes[0].ID,
			SupplyChainID:     order.SupplyChainID,
			OrderID:           order.ID,
			Pickup:            pickup,
			Delivery:          delivery,
		}, actor, ob)
		return err
	})
	if err != nil {
		if apperr.Is(err, apperr.InsufficientInventory) {
			s.logger.Warn("order fulfillment short of stock", zap.String("order_id", orderID), zap.Error(err))
		}
		return nil, err
	}
	s.flush(ctx, ob)
	return result, nil
}

// schedule 提货日默认今天，送达日默认订单期望交付日期
func (s *OrderService) schedule(order *entity.Order, req FulfillReq) (time.Time, time.Time, error) {
	pickup := req.ScheduledPickupDate
	if pickup == "" {
		pickup = s.now().UTC().Format("2006-01-02")
	}
	delivery := req.ScheduledDeliveryDate
	if delivery == "" {
		if order.RequestedDeliveryDate == nil {
			return time.Time{}, time.Time{}, apperr.New(apperr.InvalidSchedule, "订单未指定期望交付日期，需提供送达日期")
		}
		delivery = order.RequestedDeliveryDate.UTC().Format(time.RFC3339)
	}
	return s.transport.parseSchedule(pickup, delivery)
}

// manufacturerCandidates 已承接订单的制造商优先，其次为指定制造商，管理员未指定时按链上制造商依次尝试
func (s *OrderService) manufacturerCandidates(chain *entity.SupplyChain, order *entity.Order, req FulfillReq, actor Actor) ([]string, error) {
	var candidates []string
	switch {
	case order.ManufacturerID != "":
		if !actor.Is(order.ManufacturerID) {
			return nil, apperr.New(apperr.Forbidden, "订单 %s 已由其他制造商承接", order.Code)
		}
		candidates = []string{order.ManufacturerID}
	case !actor.Admin:
		candidates = []string{actor.UserID}
	case req.ManufacturerID != "":
		candidates = []string{req.ManufacturerID}
	default:
		candidates = usersWithRole(chain, entity.RoleManufacturer)
	}
	valid := candidates[:0]
	for _, m := range candidates {
		if len(nodesOf(chain, m, entity.RoleManufacturer)) > 0 {
			valid = append(valid, m)
		}
	}
	if len(valid) == 0 {
		return nil, apperr.New(apperr.InvalidTopology, "供应链中没有可履约的制造商")
	}
	return valid, nil
}

type productNeed struct {
	order []string
	qty   map[string]decimal.Decimal
}

func requiredProducts(order *entity.Order) productNeed {
	need := productNeed{qty: make(map[string]decimal.Decimal)}
	for _, it := range order.Items {
		if _, ok := need.qty[it.ProductID]; !ok {
			need.order = append(need.order, it.ProductID)
			need.qty[it.ProductID] = decimal.Zero
		}
		need.qty[it.ProductID] = need.qty[it.ProductID].Add(it.Quantity)
	}
	return need
}

// coverage 锁定制造商的可用成品，判断能否覆盖全部需求
func (s *OrderService) coverage(ctx context.Context, r *repository.Repositories, manufacturerID, chainID string, need productNeed) (map[string][]entity.LedgerItem, bool, error) {
	stock := make(map[string][]entity.LedgerItem, len(need.order))
	for _, productID := range need.order {
		lots, err := r.Ledger.ListItemsForUpdate(ctx, availableProducts(manufacturerID, productID, chainID))
		if err != nil {
			return nil, false, fmt.Errorf("查询成品库存失败: %w", err)
		}
		if sumQuantity(lots).LessThan(need.qty[productID]) {
			return nil, false, nil
		}
		stock[productID] = lots
	}
	return stock, true, nil
}

// Cancel 取消订单：释放预留成品，取消未提货的运输；已取消时直接返回
func (s *OrderService) Cancel(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	var order *entity.Order
	ob := &outbox{}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		order, err = r.Order.FindForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, apperr.NotFound, "订单", orderID)
		}
		if !actor.Is(order.CustomerID) {
			return apperr.New(apperr.Forbidden, "只有下单客户可以取消订单")
		}
		if order.Status == entity.OrderStatusCancelled {
			return nil
		}
		if !order.Status.CanTransitionTo(entity.OrderStatusCancelled) {
			return apperr.New(apperr.InvalidTransition, "订单状态 %s 不允许取消", order.Status)
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
			if err := s.ledger.setStatusTx(ctx, r, &reserved[i], entity.ItemStatusCompleted, entity.TxOpRelease, "", ""); err != nil {
				return err
			}
		}

		live, err := r.Transport.FindLiveByOrder(ctx, order.ID)
		switch {
		case err == nil:
			if err := s.transport.cancelTx(ctx, r, live, actor, ob); err != nil {
				return err
			}
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("查询运输失败: %w", err)
		}

		now := s.now()
		content := ""
		if len(reserved) > 0 {
			content = fmt.Sprintf("释放预留成品 %d 项", len(reserved))
		}
		order.CancelledAt = &now
		return moveOrderWithContent(ctx, r, order, entity.OrderStatusCancelled, map[string]interface{}{"cancelled_at": now}, "cancel", content, actor, ob, now)
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return order, nil
}

// ConfirmDelivery 客户签收：Delivered → Completed，运输 → Confirmed；重复调用直接返回
func (s *OrderService) ConfirmDelivery(ctx context.Context, orderID string, actor Actor) (*entity.Order, error) {
	var order *entity.Order
	ob := &outbox{}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		order, err = r.Order.FindForUpdate(ctx, orderID)
		if err != nil {
			return notFound(err, apperr.NotFound, "订单", orderID)
		}
		if !actor.Is(order.CustomerID) {
			return apperr.New(apperr.Forbidden, "只有下单客户可以确认收货")
		}
		if order.Status == entity.OrderStatusCompleted {
			return nil
		}
		if order.Status != entity.OrderStatusDelivered {
			return apperr.New(apperr.InvalidTransition, "订单状态 %s 不允许确认收货", order.Status)
		}

		t, err := r.Transport.FindLatestByOrder(ctx, order.ID)
		switch {
		case err == nil:
			if t.Status == entity.TransportStatusDelivered {
				if err := s.transport.moveTransport(ctx, r, t, entity.TransportStatusConfirmed, nil, "confirm", actor, ob); err != nil {
					return err
				}
			}
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("查询运输失败: %w", err)
		}

		now := s.now()
		order.CompletedAt = &now
		return moveOrder(ctx, r, order, entity.OrderStatusCompleted, map[string]interface{}{"completed_at": now}, "confirm_delivery", actor, ob, now)
	})
	if err != nil {
		return nil, err
	}
	s.flush(ctx, ob)
	return order, nil
}

// GetOrder 查询订单
func (s *OrderService) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	order, err := s.repos.Order.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "订单", id)
	}
	return order, nil
}

// ListOrders 查询订单列表
func (s *OrderService) ListOrders(ctx context.Context, f repository.OrderFilter, page repository.Page) ([]entity.Order, int64, error) {
	items, total, err := s.repos.Order.List(ctx, f, page)
	if err != nil {
		return nil, 0, fmt.Errorf("查询订单失败: %w", err)
	}
	return items, total, nil
}

func moveOrder(ctx context.Context, r *repository.Repositories, order *entity.Order, to entity.OrderStatus, fields map[string]interface{}, action string, actor Actor, ob *outbox, now time.Time) error {
	return moveOrderWithContent(ctx, r, order, to, fields, action, "", actor, ob, now)
}

// moveOrderWithContent 带版本号推进订单状态，写审计并登记事件
func moveOrderWithContent(ctx context.Context, r *repository.Repositories, order *entity.Order, to entity.OrderStatus, fields map[string]interface{}, action, content string, actor Actor, ob *outbox, now time.Time) error {
	from := order.Status
	if !from.CanTransitionTo(to) {
		return apperr.New(apperr.InvalidTransition, "订单状态不能从 %s 变为 %s", from, to)
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	if err := r.Order.UpdateVersioned(ctx, order, fields); err != nil {
		return conflict(err, "订单")
	}
	order.Status = to
	topic := events.TopicOrderUpdated
	if to == entity.OrderStatusCancelled {
		topic = events.TopicOrderCancelled
	}
	ob.add(topic, entity.EntityOrder, order.ID, order.Code, string(from), string(to), actor.UserID, now)
	return r.ActivityLog.LogTransition(ctx, entity.EntityOrder, order.ID, order.Code, action, string(from), string(to), content, actor.UserID)
}
