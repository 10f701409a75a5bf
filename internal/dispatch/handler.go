package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
)

// Handler serves the driver-facing half of the §6.1 REST surface: accept,
// decline, and listing a driver's still-open offers.
type Handler struct {
	service *Service
}

// NewHandler builds a dispatch handler over the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Accept handles POST /drivers/:id/accept {ride_id}.
func (h *Handler) Accept(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var body struct {
		RideID uuid.UUID `json:"ride_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.Accept(c.Request.Context(), body.RideID, driverID); err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"ride_id": body.RideID, "driver_id": driverID})
}

// Decline handles POST /drivers/:id/decline {ride_id, reason?}.
func (h *Handler) Decline(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var body struct {
		RideID uuid.UUID `json:"ride_id" binding:"required"`
		Reason string    `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	offer, err := h.service.repo.LoadPendingOfferForDriver(c.Request.Context(), body.RideID, driverID)
	if err != nil {
		common.ErrorResponse(c, http.StatusConflict, "no pending offer for this driver")
		return
	}
	if err := h.service.Decline(c.Request.Context(), offer.ID, driverID, body.Reason); err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, gin.H{"ride_id": body.RideID, "driver_id": driverID})
}

// PendingOffers handles GET /drivers/:id/pending-offers.
func (h *Handler) PendingOffers(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	offers, err := h.service.repo.LoadPendingOffersForDriver(c.Request.Context(), driverID)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to load pending offers")
		return
	}
	common.SuccessResponse(c, offers)
}

// RegisterRoutes wires the driver-facing dispatch routes under /v1.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/drivers/:id/accept", h.Accept)
	rg.POST("/drivers/:id/decline", h.Decline)
	rg.GET("/drivers/:id/pending-offers", h.PendingOffers)
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, err.Error())
}
