package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the agent's HTTP surface: a health check and the
// query endpoint.
func SetupRoutes(router *gin.Engine, queryHandler *QueryHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/query", queryHandler.Query)
	}
}
