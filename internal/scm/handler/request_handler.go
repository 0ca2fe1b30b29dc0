package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
)

// RequestHandler 物料申请处理器
type RequestHandler struct {
	svc *service.RequestService
}

// CreateRequest 制造商发起物料申请
// POST /api/v1/scm/material-requests
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req service.CreateRequestReq
	if !bind(c, &req) {
		return
	}
	mr, err := h.svc.CreateRequest(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, mr)
}

// ListRequests 物料申请列表
// GET /api/v1/scm/material-requests?supply_chain_id=&supplier_id=&manufacturer_id=&status=
func (h *RequestHandler) ListRequests(c *gin.Context) {
	page, respond := paged(c)
	var status entity.RequestStatus
	if s := c.Query("status"); s != "" {
		st, err := entity.ParseRequestStatus(s)
		if err != nil {
			BadRequest(c, "状态无效: "+s)
			return
		}
		status = st
	}
	items, total, err := h.svc.ListRequests(c.Request.Context(), repository.RequestFilter{
		SupplyChainID:  c.Query("supply_chain_id"),
		SupplierID:     c.Query("supplier_id"),
		ManufacturerID: c.Query("manufacturer_id"),
		Status:         status,
	}, page)
	if err != nil {
		Fail(c, err)
		return
	}
	respond(items, total)
}

// GetRequest 物料申请详情
// GET /api/v1/scm/material-requests/:id
func (h *RequestHandler) GetRequest(c *gin.Context) {
	mr, err := h.svc.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, mr)
}

// Approve 供应商审批
// POST /api/v1/scm/material-requests/:id/approve
func (h *RequestHandler) Approve(c *gin.Context) {
	var req service.ApproveReq
	if !bind(c, &req) {
		return
	}
	mr, err := h.svc.Approve(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, mr)
}

// Allocate 供应商分配物料
// POST /api/v1/scm/material-requests/:id/allocate
func (h *RequestHandler) Allocate(c *gin.Context) {
	mr, err := h.svc.Allocate(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, mr)
}
