package handler

import (
	"net/url"

	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LedgerHandler 台账处理器
type LedgerHandler struct {
	svc      *service.LedgerService
	tracking *service.Tracking
	logger   *zap.Logger
}

// Mint 铸造物项
// POST /api/v1/scm/ledger/items
func (h *LedgerHandler) Mint(c *gin.Context) {
	var req service.MintReq
	if !bind(c, &req) {
		return
	}
	item, err := h.svc.Mint(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, item)
}

// ListItems 按持有人查询物项，默认为当前用户
// GET /api/v1/scm/ledger/items?owner_id=xxx&active_only=true
func (h *LedgerHandler) ListItems(c *gin.Context) {
	owner := c.Query("owner_id")
	if owner == "" {
		owner = GetUserID(c)
	}
	items, err := h.svc.GetItemsByOwner(c.Request.Context(), owner, c.Query("active_only") == "true")
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, items)
}

// GetItem 物项详情
// GET /api/v1/scm/ledger/items/:id
func (h *LedgerHandler) GetItem(c *gin.Context) {
	item, err := h.svc.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, item)
}

// Transfer 转移物项
// POST /api/v1/scm/ledger/items/:id/transfer
func (h *LedgerHandler) Transfer(c *gin.Context) {
	var req service.TransferReq
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.Transfer(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, res)
}

// Deactivate 注销物项
// POST /api/v1/scm/ledger/items/:id/deactivate
func (h *LedgerHandler) Deactivate(c *gin.Context) {
	item, err := h.svc.Deactivate(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, item)
}

// TraceHistory 物项溯源
// GET /api/v1/scm/ledger/items/:id/history
func (h *LedgerHandler) TraceHistory(c *gin.Context) {
	trace, err := h.svc.TraceItemHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, trace)
}

// ExportHistory 导出溯源链
// GET /api/v1/scm/ledger/items/:id/history/export
func (h *LedgerHandler) ExportHistory(c *gin.Context) {
	f, filename, err := h.svc.ExportHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("write ledger export failed", zap.String("item_id", c.Param("id")), zap.Error(err))
	}
}

// GetTransaction 按哈希查询交易
// GET /api/v1/scm/ledger/transactions/:hash
func (h *LedgerHandler) GetTransaction(c *gin.Context) {
	detail, err := h.svc.GetTransaction(c.Request.Context(), c.Param("hash"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, detail)
}

// GetTracking 台账追踪开关
// GET /api/v1/scm/ledger/tracking
func (h *LedgerHandler) GetTracking(c *gin.Context) {
	Success(c, gin.H{"enabled": h.tracking.Enabled()})
}

// SetTracking 切换台账追踪（管理员）
// PUT /api/v1/scm/ledger/tracking
func (h *LedgerHandler) SetTracking(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	h.tracking.SetEnabled(*req.Enabled)
	h.logger.Info("ledger tracking switched", zap.Bool("enabled", *req.Enabled), zap.String("operator", GetUserID(c)))
	Success(c, gin.H{"enabled": h.tracking.Enabled()})
}
