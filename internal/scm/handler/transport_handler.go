package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
)

// TransportHandler 运输处理器
type TransportHandler struct {
	svc *service.TransportService
}

// Schedule 排程运输
// POST /api/v1/scm/transports
func (h *TransportHandler) Schedule(c *gin.Context) {
	var req service.ScheduleReq
	if !bind(c, &req) {
		return
	}
	t, err := h.svc.Schedule(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, t)
}

// ListTransports 运输单列表
// GET /api/v1/scm/transports?distributor_id=&supply_chain_id=&related_request_id=&related_order_id=&status=
func (h *TransportHandler) ListTransports(c *gin.Context) {
	page, respond := paged(c)
	items, total, err := h.svc.ListTransports(c.Request.Context(), repository.TransportFilter{
		DistributorID:    c.Query("distributor_id"),
		SupplyChainID:    c.Query("supply_chain_id"),
		RelatedRequestID: c.Query("related_request_id"),
		RelatedOrderID:   c.Query("related_order_id"),
		Status:           entity.TransportStatus(c.Query("status")),
	}, page)
	if err != nil {
		Fail(c, err)
		return
	}
	respond(items, total)
}

// GetTransport 运输单详情
// GET /api/v1/scm/transports/:id
func (h *TransportHandler) GetTransport(c *gin.Context) {
	t, err := h.svc.GetTransport(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, t)
}

// RecordPickup 提货
// POST /api/v1/scm/transports/:id/pickup
func (h *TransportHandler) RecordPickup(c *gin.Context) {
	t, err := h.svc.RecordPickup(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, t)
}

// RecordDelivery 送达
// POST /api/v1/scm/transports/:id/delivery
func (h *TransportHandler) RecordDelivery(c *gin.Context) {
	t, err := h.svc.RecordDelivery(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, t)
}

// Cancel 取消运输
// POST /api/v1/scm/transports/:id/cancel
func (h *TransportHandler) Cancel(c *gin.Context) {
	t, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, t)
}
