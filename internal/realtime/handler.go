package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/fleetcore/dispatch/pkg/logger"
	"github.com/fleetcore/dispatch/pkg/middleware"
	ws "github.com/fleetcore/dispatch/pkg/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the WebSocket upgrade endpoint and a small set of
// operational REST endpoints alongside it.
type Handler struct {
	service *Service
}

// NewHandler creates a new handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleWebSocket upgrades the connection and registers a Client with the
// hub. "register{userId, userType}" (§4.7) is implicit here: identity
// comes from the authenticated request context, and registering a client
// joins it to user:<id> and type:<role> immediately.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	role, err := middleware.GetUserRole(c)
	if err != nil {
		role = middleware.RoleRider
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(userID.String(), conn, h.service.GetHub(), string(role))
	h.service.GetHub().Register <- client

	go client.WritePump()
	go client.ReadPump()

	logger.Info("websocket connection established", zap.String("user_id", userID.String()), zap.String("role", string(role)))
}

// GetStats returns connection statistics.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.GetStats())
}

// HealthCheck returns service health status.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "realtime", "stats": h.service.GetStats()})
}

// RegisterRoutes wires the realtime routes under the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.HandleWebSocket)
	rg.GET("/realtime/stats", h.GetStats)
}
