package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/hexagonal-orders/internal/order/domain"
	sharedDomain "github.com/davicafu/hexagonal-orders/internal/shared/domain"
	"github.com/davicafu/hexagonal-orders/pkg/utils"
)

// OrderReader es la parte de OrderService que exponen los endpoints de consulta.
type OrderReader interface {
	GetOrder(ctx context.Context, number domain.OrderNumber) (*domain.Order, error)
	ListOrders(ctx context.Context, f domain.OrderFilter) ([]*domain.Order, error)
}

type OutboxStats interface {
	Stats(ctx context.Context) (sharedDomain.OutboxStats, error)
}

// OutboxFlusher fuerza una pasada del relay y espera a sus confirmaciones.
type OutboxFlusher interface {
	ProcessBatch(ctx context.Context) int
	Flush(ctx context.Context) error
}

// EventCounter agrega el registro analítico de eventos.
type EventCounter interface {
	CountByEvent(ctx context.Context, start, end time.Time) (map[string]uint64, error)
}

// OpsHandler expone salud, estado de la outbox y consultas de pedidos. No hay endpoints de escritura.
type OpsHandler struct {
	orders OrderReader
	outbox OutboxStats
	relay  OutboxFlusher
	events EventCounter // nil sin ClickHouse
	checks map[string]utils.HealthCheck
}

func NewOpsHandler(orders OrderReader, outbox OutboxStats, relay OutboxFlusher, checks map[string]utils.HealthCheck) *OpsHandler {
	return &OpsHandler{orders: orders, outbox: outbox, relay: relay, checks: checks}
}

// WithEventCounter habilita GET /analytics/events.
func (h *OpsHandler) WithEventCounter(events EventCounter) *OpsHandler {
	h.events = events
	return h
}

func RegisterRoutes(r *gin.Engine, h *OpsHandler) {
	r.GET("/health", h.Health)

	outbox := r.Group("/outbox")
	{
		outbox.GET("/stats", h.OutboxStats)
		outbox.POST("/flush", h.FlushOutbox)
	}

	orders := r.Group("/orders")
	{
		orders.GET("", h.ListOrders)
		orders.GET("/:number", h.GetOrder)
	}

	r.GET("/analytics/events", h.CountEvents)
}

// Health endpoint GET /health
func (h *OpsHandler) Health(c *gin.Context) {
	utils.SendHealth(c, "orders", h.checks)
}

// OutboxStats endpoint GET /outbox/stats
func (h *OpsHandler) OutboxStats(c *gin.Context) {
	stats, err := h.outbox.Stats(c.Request.Context())
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	utils.SendSuccess(c, http.StatusOK, stats)
}

// FlushOutbox endpoint POST /outbox/flush
func (h *OpsHandler) FlushOutbox(c *gin.Context) {
	ctx := c.Request.Context()
	dispatched := h.relay.ProcessBatch(ctx)
	if err := h.relay.Flush(ctx); err != nil {
		utils.SendError(c, http.StatusGatewayTimeout, err.Error())
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"dispatched": dispatched})
}

// GetOrder endpoint GET /orders/:number
func (h *OpsHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), domain.OrderNumber(c.Param("number")))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			utils.SendNotFound(c, "order not found")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// ListOrders endpoint GET /orders?status=&customer_id=&limit=&offset=
func (h *OpsHandler) ListOrders(c *gin.Context) {
	var f domain.OrderFilter

	if s := c.Query("status"); s != "" {
		status := domain.OrderStatus(s)
		if !status.Valid() {
			utils.SendBadRequest(c, "invalid status")
			return
		}
		f.Status = &status
	}
	if cid := c.Query("customer_id"); cid != "" {
		f.CustomerID = &cid
	}

	limit, offset, err := utils.ParsePagination(c)
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	f.Limit, f.Offset = limit, offset

	orders, err := h.orders.ListOrders(c.Request.Context(), f)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	utils.SendPage(c, orders, limit, offset, len(orders))
}

// CountEvents endpoint GET /analytics/events?from=&to= (RFC3339, por defecto las últimas 24h)
func (h *OpsHandler) CountEvents(c *gin.Context) {
	if h.events == nil {
		utils.SendNotFound(c, "event analytics disabled")
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			utils.SendBadRequest(c, "invalid from")
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			utils.SendBadRequest(c, "invalid to")
			return
		}
	}
	if !start.Before(end) {
		utils.SendBadRequest(c, "from must be before to")
		return
	}

	counts, err := h.events.CountByEvent(c.Request.Context(), start, end)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"from": start, "to": end, "counts": counts})
}
