package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	httpapi "github.com/streamforge/backend/internal/http"
)

// setupRoutes mounts middleware and every endpoint on the router
func (a *App) setupRoutes() {
	response := httpapi.NewResponseHandler(a.logger)

	a.router.Use(httpapi.RequestIDMiddleware())
	a.router.Use(httpapi.RequestLoggerMiddleware(a.logger))
	a.router.Use(httpapi.RecoveryMiddleware(response, a.logger))

	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	a.router.GET("/ws", a.wsHandler.Serve)

	v1 := a.router.Group("/api/v1")
	a.handler.RegisterRoutes(v1)
}
