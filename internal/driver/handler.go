package driver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/fleetcore/dispatch/pkg/common"
	"github.com/fleetcore/dispatch/pkg/models"
)

// Handler serves the §6.1 driver-resource endpoints outside of telemetry
// ingest (C5) and offer response (C6): manual status toggling and the
// driver's own current-ride lookup.
type Handler struct {
	service *Service
}

// NewHandler builds a driver handler over the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// SetStatus handles PATCH /drivers/:id/status {status}.
func (h *Handler) SetStatus(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	d, err := h.service.SetStatus(c.Request.Context(), driverID, models.DriverStatus(body.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, d)
}

// CurrentRide handles GET /drivers/:id/current-ride.
func (h *Handler) CurrentRide(c *gin.Context) {
	driverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid driver id")
		return
	}
	ride, err := h.service.CurrentRide(c.Request.Context(), driverID)
	if err != nil {
		respondError(c, err)
		return
	}
	common.SuccessResponse(c, ride)
}

// RegisterRoutes wires the driver resource routes under /v1.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.PATCH("/drivers/:id/status", h.SetStatus)
	rg.GET("/drivers/:id/current-ride", h.CurrentRide)
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := common.AsAppError(err); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, err.Error())
}
