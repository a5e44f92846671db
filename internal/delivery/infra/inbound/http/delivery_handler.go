package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/davicafu/hexagonal-orders/internal/delivery/domain"
	sharedEvents "github.com/davicafu/hexagonal-orders/internal/shared/infra/events"
	"github.com/davicafu/hexagonal-orders/pkg/utils"
)

type DeliveryReader interface {
	GetDelivery(ctx context.Context, orderNumber string) (*domain.Delivery, error)
	ListDeliveries(ctx context.Context, limit, offset int) ([]*domain.Delivery, error)
}

// DeadLetterReader lista los mensajes descartados por el consumidor.
type DeadLetterReader interface {
	Entries(ctx context.Context) ([]sharedEvents.DeadLetterEntry, error)
}

type DeliveryHandler struct {
	service     DeliveryReader
	deadLetters DeadLetterReader // nil si la DLQ no es un fichero
	checks      map[string]utils.HealthCheck
}

func NewDeliveryHandler(service DeliveryReader, deadLetters DeadLetterReader, checks map[string]utils.HealthCheck) *DeliveryHandler {
	return &DeliveryHandler{service: service, deadLetters: deadLetters, checks: checks}
}

func RegisterRoutes(r *gin.Engine, h *DeliveryHandler) {
	r.GET("/health", h.Health)
	r.GET("/dead-letters", h.ListDeadLetters)

	deliveries := r.Group("/deliveries")
	{
		deliveries.GET("", h.ListDeliveries)
		deliveries.GET("/:orderNumber", h.GetDelivery)
	}
}

func (h *DeliveryHandler) Health(c *gin.Context) {
	utils.SendHealth(c, "delivery", h.checks)
}

// GetDelivery endpoint GET /deliveries/:orderNumber
func (h *DeliveryHandler) GetDelivery(c *gin.Context) {
	d, err := h.service.GetDelivery(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		if errors.Is(err, domain.ErrDeliveryNotFound) {
			utils.SendNotFound(c, "delivery not found")
			return
		}
		utils.SendInternalServerError(c, err.Error())
		return
	}
	utils.SendSuccess(c, http.StatusOK, d)
}

// ListDeliveries endpoint GET /deliveries?limit=&offset=
func (h *DeliveryHandler) ListDeliveries(c *gin.Context) {
	limit, offset, err := utils.ParsePagination(c)
	if err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	list, err := h.service.ListDeliveries(c.Request.Context(), limit, offset)
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	if list == nil {
		list = []*domain.Delivery{}
	}
	utils.SendPage(c, list, limit, offset, len(list))
}

// ListDeadLetters endpoint GET /dead-letters
func (h *DeliveryHandler) ListDeadLetters(c *gin.Context) {
	if h.deadLetters == nil {
		utils.SendNotFound(c, "dead letters are not stored locally")
		return
	}
	entries, err := h.deadLetters.Entries(c.Request.Context())
	if err != nil {
		utils.SendInternalServerError(c, err.Error())
		return
	}
	utils.SendSuccess(c, http.StatusOK, entries)
}
