package payments

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/models"
)

// Handler serves the §6.1 payment routes.
type Handler struct {
	service *Service
}

// NewHandler builds a payments handler over the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type processBody struct {
	TripID         uuid.UUID `json:"trip_id" binding:"required"`
	PaymentMethod  string    `json:"payment_method" binding:"required"`
	IdempotencyKey string    `json:"idempotency_key" binding:"required"`
}

// Process handles POST /payments. The body's idempotency_key is required;
// a non-empty Idempotency-Key header, when present, takes precedence over it
// as the dedup key.
func (h *Handler) Process(c *gin.Context) {
	var body processBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !models.ValidPaymentMethod(body.PaymentMethod) {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid payment method")
		return
	}
	key := body.IdempotencyKey
	if h := c.GetHeader("Idempotency-Key"); h != "" {
		key = h
	}

	payment, err := h.service.Process(c.Request.Context(), body.TripID, models.PaymentMethod(body.PaymentMethod), key)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if payment.Status == models.PaymentStatusProcessing {
		status = http.StatusAccepted
	}
	common.SuccessResponseWithStatus(c, status, payment, "")
}

// Get handles GET /payments/:id, used to poll a payment that returned 202.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid payment id")
		return
	}
	payment, err := h.service.GetPayment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, payment)
}

// Refund handles POST /payments/:id/refund {reason}.
func (h *Handler) Refund(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid payment id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	payment, err := h.service.Refund(c.Request.Context(), id, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, payment)
}

// RegisterRoutes wires the payment routes under /v1.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments", h.Process)
	rg.GET("/payments/:id", h.Get)
	rg.POST("/payments/:id/refund", h.Refund)
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, err.Error())
}
