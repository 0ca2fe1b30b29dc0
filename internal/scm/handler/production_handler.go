package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
)

// ProductionHandler 产品与生产批次处理器
type ProductionHandler struct {
	svc *service.ProductionService
}

// CreateProduct 登记产品及物料清单
// POST /api/v1/scm/products
func (h *ProductionHandler) CreateProduct(c *gin.Context) {
	var req service.CreateProductReq
	if !bind(c, &req) {
		return
	}
	p, err := h.svc.CreateProduct(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, p)
}

// ListProducts 产品列表
// GET /api/v1/scm/products?manufacturer_id=xxx
func (h *ProductionHandler) ListProducts(c *gin.Context) {
	items, err := h.svc.ListProducts(c.Request.Context(), c.Query("manufacturer_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, items)
}

// GetProduct 产品详情
// GET /api/v1/scm/products/:id
func (h *ProductionHandler) GetProduct(c *gin.Context) {
	p, err := h.svc.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, p)
}

// GetInventory 制造商在某条链上的可用成品数量
// GET /api/v1/scm/products/:id/inventory?supply_chain_id=xxx&manufacturer_id=xxx
func (h *ProductionHandler) GetInventory(c *gin.Context) {
	manufacturerID := c.Query("manufacturer_id")
	if manufacturerID == "" {
		manufacturerID = GetUserID(c)
	}
	chainID := c.Query("supply_chain_id")
	if chainID == "" {
		BadRequest(c, "supply_chain_id 不能为空")
		return
	}
	qty, err := h.svc.AvailableProductQuantity(c.Request.Context(), manufacturerID, c.Param("id"), chainID)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{
		"product_id":      c.Param("id"),
		"manufacturer_id": manufacturerID,
		"supply_chain_id": chainID,
		"available":       qty,
	})
}

// CreateBatch 创建生产批次
// POST /api/v1/scm/batches
func (h *ProductionHandler) CreateBatch(c *gin.Context) {
	var req service.CreateBatchReq
	if !bind(c, &req) {
		return
	}
	batch, err := h.svc.CreateBatch(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, batch)
}

// ListBatches 生产批次列表
// GET /api/v1/scm/batches?manufacturer_id=&product_id=&supply_chain_id=&status=
func (h *ProductionHandler) ListBatches(c *gin.Context) {
	page, respond := paged(c)
	var status entity.BatchStatus
	if s := c.Query("status"); s != "" {
		st, err := entity.ParseBatchStatus(s)
		if err != nil {
			BadRequest(c, "状态无效: "+s)
			return
		}
		status = st
	}
	items, total, err := h.svc.ListBatches(c.Request.Context(), repository.BatchFilter{
		ManufacturerID: c.Query("manufacturer_id"),
		ProductID:      c.Query("product_id"),
		SupplyChainID:  c.Query("supply_chain_id"),
		Status:         status,
	}, page)
	if err != nil {
		Fail(c, err)
		return
	}
	respond(items, total)
}

// GetBatch 生产批次详情
// GET /api/v1/scm/batches/:id
func (h *ProductionHandler) GetBatch(c *gin.Context) {
	batch, err := h.svc.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// StartQC 进入质检
// POST /api/v1/scm/batches/:id/qc
func (h *ProductionHandler) StartQC(c *gin.Context) {
	batch, err := h.svc.StartQC(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// Complete 完工
// POST /api/v1/scm/batches/:id/complete
func (h *ProductionHandler) Complete(c *gin.Context) {
	var req service.CompleteBatchReq
	if !bind(c, &req) {
		return
	}
	batch, err := h.svc.Complete(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}

// Reject 报废
// POST /api/v1/scm/batches/:id/reject
func (h *ProductionHandler) Reject(c *gin.Context) {
	var req service.RejectBatchReq
	if !bind(c, &req) {
		return
	}
	batch, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, batch)
}
