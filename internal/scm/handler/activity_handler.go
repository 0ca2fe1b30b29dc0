package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
)

// ActivityHandler 审计日志处理器
type ActivityHandler struct {
	svc *service.ActivityService
}

// ListByEntity 实体的状态流转记录
// GET /api/v1/scm/activities/:entityType/:id
func (h *ActivityHandler) ListByEntity(c *gin.Context) {
	logs, err := h.svc.ListByEntity(c.Request.Context(), c.Param("entityType"), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, logs)
}
