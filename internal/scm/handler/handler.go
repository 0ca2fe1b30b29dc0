package handler

import (
	"net/http"
	"strconv"

	"github.com/bitfantasy/nimo-scm/internal/middleware"
	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/scm/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers 供应链处理器集合
type Handlers struct {
	Chain      *ChainHandler
	Ledger     *LedgerHandler
	Request    *RequestHandler
	Production *ProductionHandler
	Order      *OrderHandler
	Transport  *TransportHandler
	Activity   *ActivityHandler
	SSE        *SSEHandler
}

// NewHandlers 创建供应链处理器集合；hub 为空时不开放事件流
func NewHandlers(svc *service.Services, hub *events.Hub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Chain:      &ChainHandler{svc: svc.Chain},
		Ledger:     &LedgerHandler{svc: svc.Ledger, tracking: svc.Tracking, logger: logger},
		Request:    &RequestHandler{svc: svc.Request},
		Production: &ProductionHandler{svc: svc.Production},
		Order:      &OrderHandler{svc: svc.Order},
		Transport:  &TransportHandler{svc: svc.Transport},
		Activity:   &ActivityHandler{svc: svc.Activity},
		SSE:        &SSEHandler{hub: hub},
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code      int         `json:"code"`
	Kind      string      `json:"kind,omitempty"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// kindCodes 业务错误类别对应的响应码，响应码/100 即 HTTP 状态码
var kindCodes = map[apperr.Kind]int{
	apperr.InvalidInput:           40000,
	apperr.InvalidApproval:        40001,
	apperr.InvalidSchedule:        40002,
	apperr.Forbidden:              40300,
	apperr.NotFound:               40400,
	apperr.ItemNotFound:           40401,
	apperr.InvalidTransition:      40900,
	apperr.ChainFinalized:         40901,
	apperr.NodeHasDependencies:    40902,
	apperr.ItemInactive:           40903,
	apperr.ConcurrentModification: 40904,
	apperr.InvalidTopology:        42200,
	apperr.InsufficientQuantity:   42201,
	apperr.InsufficientInventory:  42202,
}

// Fail 输出业务错误；非业务错误按 500 处理且不暴露内部信息
func Fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, Response{
			Code:    50000,
			Kind:    string(apperr.Internal),
			Message: "服务内部错误",
		})
		return
	}
	c.JSON(code/100, Response{
		Code:      code,
		Kind:      string(kind),
		Message:   apperr.MessageOf(err),
		Retryable: kind.Retryable(),
	})
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// currentActor 当前请求的操作人
func currentActor(c *gin.Context) service.Actor {
	return service.Actor{
		UserID: GetUserID(c),
		Admin:  middleware.HasRole(c, middleware.RoleAdmin),
	}
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// paged 解析分页参数，返回仓库分页与输出列表的函数
func paged(c *gin.Context) (repository.Page, func(items interface{}, total int64)) {
	page, pageSize := GetPagination(c)
	return repository.Page{Page: page, PageSize: pageSize}, func(items interface{}, total int64) {
		totalPages := int(total) / pageSize
		if int(total)%pageSize > 0 {
			totalPages++
		}
		Success(c, ListResponse{
			Items: items,
			Pagination: &Pagination{
				Page:       page,
				PageSize:   pageSize,
				Total:      int(total),
				TotalPages: totalPages,
			},
		})
	}
}

// bind 绑定请求体，失败时直接输出 400
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return false
	}
	return true
}
