package handler

import (
	"github.com/bitfantasy/nimo-scm/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册供应链路由，api 为已挂载认证中间件的 /api/v1/scm 分组
func (h *Handlers) RegisterRoutes(api *gin.RouterGroup) {
	admin := middleware.RequireRole(middleware.RoleAdmin)

	// 供应链拓扑
	chains := api.Group("/chains")
	{
		chains.GET("", h.Chain.ListChains)
		chains.POST("", admin, h.Chain.CreateChain)
		chains.GET("/:id", h.Chain.GetChain)
		chains.POST("/:id/nodes", admin, h.Chain.AddNode)
		chains.PUT("/:id/nodes/:nodeId/user", admin, h.Chain.AssignUser)
		chains.DELETE("/:id/nodes/:nodeId", admin, h.Chain.DeleteNode)
		chains.POST("/:id/edges", admin, h.Chain.AddEdge)
		chains.POST("/:id/finalize", admin, h.Chain.Finalize)
		chains.POST("/:id/confirm", admin, h.Chain.Confirm)
		chains.GET("/:id/assigned-users", h.Chain.GetAssignedUsers)
		chains.GET("/:id/flow", h.Chain.HasFlow)
	}

	// 台账
	ledger := api.Group("/ledger")
	{
		ledger.GET("/items", h.Ledger.ListItems)
		ledger.POST("/items", h.Ledger.Mint)
		ledger.GET("/items/:id", h.Ledger.GetItem)
		ledger.POST("/items/:id/transfer", h.Ledger.Transfer)
		ledger.POST("/items/:id/deactivate", h.Ledger.Deactivate)
		ledger.GET("/items/:id/history", h.Ledger.TraceHistory)
		ledger.GET("/items/:id/history/export", h.Ledger.ExportHistory)
		ledger.GET("/transactions/:hash", h.Ledger.GetTransaction)
		ledger.GET("/tracking", h.Ledger.GetTracking)
		ledger.PUT("/tracking", admin, h.Ledger.SetTracking)
	}

	// 物料申请
	requests := api.Group("/material-requests")
	{
		requests.GET("", h.Request.ListRequests)
		requests.POST("", h.Request.CreateRequest)
		requests.GET("/:id", h.Request.GetRequest)
		requests.POST("/:id/approve", h.Request.Approve)
		requests.POST("/:id/allocate", h.Request.Allocate)
	}

	// 产品与生产
	products := api.Group("/products")
	{
		products.GET("", h.Production.ListProducts)
		products.POST("", h.Production.CreateProduct)
		products.GET("/:id", h.Production.GetProduct)
		products.GET("/:id/inventory", h.Production.GetInventory)
	}
	batches := api.Group("/batches")
	{
		batches.GET("", h.Production.ListBatches)
		batches.POST("", h.Production.CreateBatch)
		batches.GET("/:id", h.Production.GetBatch)
		batches.POST("/:id/qc", h.Production.StartQC)
		batches.POST("/:id/complete", h.Production.Complete)
		batches.POST("/:id/reject", h.Production.Reject)
	}

	// 订单
	orders := api.Group("/orders")
	{
		orders.GET("", h.Order.ListOrders)
		orders.POST("", h.Order.CreateOrder)
		orders.GET("/:id", h.Order.GetOrder)
		orders.POST("/:id/fulfill", h.Order.Fulfill)
		orders.POST("/:id/cancel", h.Order.Cancel)
		orders.POST("/:id/confirm-delivery", h.Order.ConfirmDelivery)
	}

	// 运输
	transports := api.Group("/transports")
	{
		transports.GET("", h.Transport.ListTransports)
		transports.POST("", h.Transport.Schedule)
		transports.GET("/:id", h.Transport.GetTransport)
		transports.POST("/:id/pickup", h.Transport.RecordPickup)
		transports.POST("/:id/delivery", h.Transport.RecordDelivery)
		transports.POST("/:id/cancel", h.Transport.Cancel)
	}

	api.GET("/activities/:entityType/:id", h.Activity.ListByEntity)
	api.GET("/events", h.SSE.Stream)
}
