package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
)

// OrderHandler 订单处理器
type OrderHandler struct {
	svc *service.OrderService
}

// CreateOrder 客户下单
// POST /api/v1/scm/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderReq
	if !bind(c, &req) {
		return
	}
	order, err := h.svc.CreateOrder(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, order)
}

// ListOrders 订单列表
// GET /api/v1/scm/orders?supply_chain_id=&customer_id=&manufacturer_id=&distributor_id=&status=
func (h *OrderHandler) ListOrders(c *gin.Context) {
	page, respond := paged(c)
	var status entity.OrderStatus
	if s := c.Query("status"); s != "" {
		st, err := entity.ParseOrderStatus(s)
		if err != nil {
			BadRequest(c, "状态无效: "+s)
			return
		}
		status = st
	}
	items, total, err := h.svc.ListOrders(c.Request.Context(), repository.OrderFilter{
		SupplyChainID:  c.Query("supply_chain_id"),
		CustomerID:     c.Query("customer_id"),
		ManufacturerID: c.Query("manufacturer_id"),
		DistributorID:  c.Query("distributor_id"),
		Status:         status,
	}, page)
	if err != nil {
		Fail(c, err)
		return
	}
	respond(items, total)
}

// GetOrder 订单详情
// GET /api/v1/scm/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}

// Fulfill 库存履约
// POST /api/v1/scm/orders/:id/fulfill
func (h *OrderHandler) Fulfill(c *gin.Context) {
	var req service.FulfillReq
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.FulfillFromStock(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

// Cancel 取消订单
// POST /api/v1/scm/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	order, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}

// ConfirmDelivery 确认收货
// POST /api/v1/scm/orders/:id/confirm-delivery
func (h *OrderHandler) ConfirmDelivery(c *gin.Context) {
	order, err := h.svc.ConfirmDelivery(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, order)
}
