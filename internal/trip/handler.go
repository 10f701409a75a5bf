package trip

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
)

// Handler serves POST /trips/start and POST /trips/:id/end (§6.1).
type Handler struct {
	service *Service
}

// NewHandler builds a trip handler over the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Start handles POST /trips/start {ride_id}.
func (h *Handler) Start(c *gin.Context) {
	var body struct {
		RideID uuid.UUID `json:"ride_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.service.Start(c.Request.Context(), body.RideID)
	if err != nil {
		respondError(c, err)
		return
	}
	common.CreatedResponse(c, t)
}

// End handles POST /trips/:id/end {actual_distance_km?, actual_duration_mins?};
// a route_polyline field in the body is not read.
// :id is the ride id, matching the §6.1 path (trips are addressed by their ride).
func (h *Handler) End(c *gin.Context) {
	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}
	var body struct {
		ActualDistanceKm   *float64 `json:"actual_distance_km"`
		ActualDurationMins *int     `json:"actual_duration_mins"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.service.End(c.Request.Context(), rideID, EndInput{
		ActualDistanceKm:   body.ActualDistanceKm,
		ActualDurationMins: body.ActualDurationMins,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, t)
}

// RegisterRoutes wires the trip routes under /v1.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/trips/start", h.Start)
	rg.POST("/trips/:id/end", h.End)
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, err.Error())
}
