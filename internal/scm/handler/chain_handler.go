package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
)

// ChainHandler 供应链图处理器
type ChainHandler struct {
	svc *service.ChainService
}

// CreateChain 创建供应链
// POST /api/v1/scm/chains
func (h *ChainHandler) CreateChain(c *gin.Context) {
	var req service.CreateChainReq
	if !bind(c, &req) {
		return
	}
	chain, err := h.svc.CreateChain(c.Request.Context(), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, chain)
}

// ListChains 供应链列表
// GET /api/v1/scm/chains?status=xxx
func (h *ChainHandler) ListChains(c *gin.Context) {
	page, respond := paged(c)
	chains, total, err := h.svc.ListChains(c.Request.Context(), c.Query("status"), page)
	if err != nil {
		Fail(c, err)
		return
	}
	respond(chains, total)
}

// GetChain 供应链详情（含节点与边）
// GET /api/v1/scm/chains/:id
func (h *ChainHandler) GetChain(c *gin.Context) {
	chain, err := h.svc.GetChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, chain)
}

// AddNode 添加节点
// POST /api/v1/scm/chains/:id/nodes
func (h *ChainHandler) AddNode(c *gin.Context) {
	var req service.AddNodeReq
	if !bind(c, &req) {
		return
	}
	node, err := h.svc.AddNode(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, node)
}

// AssignUser 分配节点用户
// PUT /api/v1/scm/chains/:id/nodes/:nodeId/user
func (h *ChainHandler) AssignUser(c *gin.Context) {
	var req service.AssignUserReq
	if !bind(c, &req) {
		return
	}
	node, err := h.svc.AssignUser(c.Request.Context(), c.Param("id"), c.Param("nodeId"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, node)
}

// DeleteNode 删除节点
// DELETE /api/v1/scm/chains/:id/nodes/:nodeId
func (h *ChainHandler) DeleteNode(c *gin.Context) {
	if err := h.svc.DeleteNode(c.Request.Context(), c.Param("id"), c.Param("nodeId"), currentActor(c)); err != nil {
		Fail(c, err)
		return
	}
	Success(c, nil)
}

// AddEdge 添加有向边
// POST /api/v1/scm/chains/:id/edges
func (h *ChainHandler) AddEdge(c *gin.Context) {
	var req service.AddEdgeReq
	if !bind(c, &req) {
		return
	}
	edge, err := h.svc.AddEdge(c.Request.Context(), c.Param("id"), req, currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Created(c, edge)
}

// Finalize 定稿
// POST /api/v1/scm/chains/:id/finalize
func (h *ChainHandler) Finalize(c *gin.Context) {
	chain, err := h.svc.Finalize(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, chain)
}

// Confirm 管理员确认
// POST /api/v1/scm/chains/:id/confirm
func (h *ChainHandler) Confirm(c *gin.Context) {
	chain, err := h.svc.Confirm(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, chain)
}

// GetAssignedUsers 链内已分配用户
// GET /api/v1/scm/chains/:id/assigned-users?role=Supplier
func (h *ChainHandler) GetAssignedUsers(c *gin.Context) {
	users, err := h.svc.GetAssignedUsers(c.Request.Context(), c.Param("id"), c.Query("role"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, users)
}

// HasFlow 判断两个参与方之间是否存在物流路径
// GET /api/v1/scm/chains/:id/flow?from_user=&from_role=&to_user=&to_role=
func (h *ChainHandler) HasFlow(c *gin.Context) {
	ok, err := h.svc.HasFlow(c.Request.Context(), c.Param("id"),
		c.Query("from_user"), c.Query("from_role"), c.Query("to_user"), c.Query("to_role"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"has_flow": ok})
}
