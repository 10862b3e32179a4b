package upload

import "github.com/gin-gonic/gin"

// RegisterRoutes registers upload, recovery and dashboard routes.
// The recovery routes run behind admin.
func RegisterRoutes(r gin.IRouter, h *Handler, admin gin.HandlerFunc) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("", h.Upload)
		uploads.GET("", h.List)
		uploads.GET("/recent", h.Recent)
		uploads.GET("/search", h.Search)
		uploads.POST("/track-view", h.TrackEvent)
		uploads.GET("/track-view", h.EventStats)
		uploads.GET("/:id", h.GetByID)
		uploads.PATCH("/:id", h.Update)
		uploads.DELETE("/:id", h.Delete)
	}

	var guards []gin.HandlerFunc
	if admin != nil {
		guards = append(guards, admin)
	}
	recovery := r.Group("/recover-metadata", guards...)
	{
		recovery.POST("", h.RecoverMetadata)
		recovery.GET("", h.ListOrphans)
	}

	r.GET("/dashboard/stats", h.DashboardStats)
}
