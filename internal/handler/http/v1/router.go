package v1

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes регистрирует все маршруты API v1
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	session := SessionAuthMiddleware(h.authService, h.logger)

	incidents := api.Group("/incidents")
	{
		// POST вызывается внешним сервисом инцидентов, чтение - полевыми клиентами
		incidents.POST("", APIKeyAuthMiddleware(h.cfg, h.logger), h.createIncident)
		incidents.GET("", session, h.listIncidents)
		incidents.GET("/:id", session, h.getIncident)
	}

	api.GET("/presence", session, h.listPresence)

	// Канал реального времени аутентифицируется первым сообщением
	api.GET("/ws", h.serveWebSocket)

	// Маршрут Health-check
	api.GET("/system/health", h.healthCheck)
}
