package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the node routes. refresh middleware runs only on
// POST /v1/node/refresh.
func RegisterRoutes(r *gin.Engine, h *Handlers, refresh ...gin.HandlerFunc) {
	nodeGroup := r.Group("/v1/node")
	{
		nodeGroup.GET("/local_state", h.GetLocalState)
		nodeGroup.GET("/capacity", h.GetCapacity)
		nodeGroup.GET("/health", h.GetHealth)
		nodeGroup.GET("/mounts", h.GetMounts)
		nodeGroup.GET("/metrics", h.GetMetrics)
		nodeGroup.POST("/refresh", append(refresh, h.PostRefresh)...)
	}
}
