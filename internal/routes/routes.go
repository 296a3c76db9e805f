package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutorbridge/meeting-agent/internal/handlers"
	"github.com/tutorbridge/meeting-agent/internal/middlewares"
)

// RegisterEndpoints wires the local control API.
func RegisterEndpoints(
	router *gin.Engine,
	callHandler *handlers.CallHandler,
	wsHandler *handlers.WebSocketHandler,
	controlToken string,
) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(middlewares.ControlAuthMiddleware(controlToken))

	api.POST("/calls", callHandler.StartCall)
	api.POST("/calls/accept", callHandler.Accept)
	api.POST("/calls/decline", callHandler.Decline)
	api.POST("/calls/hangup", callHandler.HangUp)
	api.POST("/calls/screen-share", callHandler.ScreenShare)
	api.POST("/counterpart", callHandler.SelectCounterpart)
	api.GET("/calls/state", callHandler.State)
	api.GET("/meetings", callHandler.Meetings)

	api.GET("/ws", wsHandler.HandleWebSocket)
}
