package rides

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/middleware"
	"github.com/fleetcore/dispatch/pkg/models"
)

// Handler serves the /v1/rides and /v1/riders REST surface (§6.1).
type Handler struct {
	service *Service
}

// NewHandler builds a rides handler over the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRideBody struct {
	TenantID       uuid.UUID `json:"tenant_id" binding:"required"`
	RiderID        uuid.UUID `json:"rider_id" binding:"required"`
	PickupLat      float64   `json:"pickup_lat" binding:"required"`
	PickupLng      float64   `json:"pickup_lng" binding:"required"`
	PickupAddress  string    `json:"pickup_address"`
	DropoffLat     float64   `json:"dropoff_lat" binding:"required"`
	DropoffLng     float64   `json:"dropoff_lng" binding:"required"`
	DropoffAddress string    `json:"dropoff_address"`
	Tier           string    `json:"tier"`
	PaymentMethod  string    `json:"payment_method"`
}

// Create handles POST /rides.
func (h *Handler) Create(c *gin.Context) {
	var body createRideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	paymentMethod := models.PaymentMethodCash
	if body.PaymentMethod != "" && models.ValidPaymentMethod(body.PaymentMethod) {
		paymentMethod = models.PaymentMethod(body.PaymentMethod)
	}

	ride, err := h.service.Create(c.Request.Context(), CreateRequest{
		TenantID:       body.TenantID,
		RiderID:        body.RiderID,
		PickupLat:      body.PickupLat,
		PickupLng:      body.PickupLng,
		PickupAddress:  body.PickupAddress,
		DropoffLat:     body.DropoffLat,
		DropoffLng:     body.DropoffLng,
		DropoffAddress: body.DropoffAddress,
		Tier:           models.VehicleClass(body.Tier),
		PaymentMethod:  paymentMethod,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	common.CreatedResponse(c, ride)
}

// Get handles GET /rides/:id.
func (h *Handler) Get(c *gin.Context) {
	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	ride, err := h.service.Get(c.Request.Context(), rideID)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, ride)
}

// Cancel handles POST /rides/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	actorID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	ride, err := h.service.Cancel(c.Request.Context(), rideID, actorID, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, ride)
}

// AdvanceStatus handles PATCH /rides/:id/status?version=<n>.
func (h *Handler) AdvanceStatus(c *gin.Context) {
	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	version, err := strconv.ParseInt(c.Query("version"), 10, 64)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "missing or invalid version")
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ride, err := h.service.AdvanceStatus(c.Request.Context(), rideID, version, models.RideStatus(body.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, ride)
}

// CurrentForRider handles GET /riders/:id/current-ride.
func (h *Handler) CurrentForRider(c *gin.Context) {
	riderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid rider id")
		return
	}
	ride, err := h.service.CurrentForRider(c.Request.Context(), riderID)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, ride)
}

// ListForRider handles GET /riders/:id/rides?limit&offset&status.
func (h *Handler) ListForRider(c *gin.Context) {
	riderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid rider id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var status *models.RideStatus
	if s := c.Query("status"); s != "" {
		v := models.RideStatus(s)
		status = &v
	}

	rides, err := h.service.ListForRider(c.Request.Context(), riderID, status, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, rides)
}

// RegisterRoutes wires the rides resource's routes under /v1.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/rides", h.Create)
	rg.GET("/rides/:id", h.Get)
	rg.POST("/rides/:id/cancel", h.Cancel)
	rg.PATCH("/rides/:id/status", h.AdvanceStatus)
	rg.GET("/riders/:id/current-ride", h.CurrentForRider)
	rg.GET("/riders/:id/rides", h.ListForRider)
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, err.Error())
}
