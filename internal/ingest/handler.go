package ingest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
)

// Handler serves the telemetry half of §6.1's driver surface: REST is the
// fallback ingestion path, the WebSocket transport (C10) is preferred.
type Handler struct {
	pipeline *Pipeline
}

// NewHandler builds an ingest handler over the given pipeline.
func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

type locationBody struct {
	Latitude  float64  `json:"latitude" binding:"required"`
	Longitude float64  `json:"longitude" binding:"required"`
	Heading   *float64 `json:"heading"`
	Speed     *float64 `json:"speed"`
	Accuracy  *float64 `json:"accuracy"`
	TenantID  string   `json:"tenant_id"`
}

// Location handles POST /drivers/:id/location.
func (h *Handler) Location(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var body locationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	sample := Sample{
		DriverID:  driverID,
		Lat:       body.Latitude,
		Lng:       body.Longitude,
		Heading:   body.Heading,
		Speed:     body.Speed,
		Accuracy:  body.Accuracy,
		Timestamp: time.Now().UTC(),
	}
	tenant := body.TenantID
	if tenant == "" {
		tenant = c.GetHeader("X-Tenant-Id")
	}

	if err := h.pipeline.Ingest(c.Request.Context(), tenant, sample); err != nil {
		common.ErrorResponse(c, http.StatusNotFound, "driver not found")
		return
	}
	common.SuccessResponse(c, gin.H{"driver_id": driverID, "accepted": true})
}

// RegisterRoutes wires the ingest routes under /v1.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/drivers/:id/location", h.Location)
}
