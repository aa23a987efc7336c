package routes

import (
	"civicsync-dispatch/controllers"
	"civicsync-dispatch/middlewares"

	"github.com/gin-gonic/gin"
)

// AdminRoutes sets up the dispatch routes, restricted to admins
func AdminRoutes(r *gin.Engine, ac *controllers.AdminController, requireAuth gin.HandlerFunc) {
	admin := r.Group("/api/admin", requireAuth, middlewares.RequireAdmin())
	{
		admin.GET("/priority", ac.GetPriorityList)
		admin.POST("/optimize", ac.RunOptimization)

		admin.PUT("/issues/:id/status", ac.UpdateIssueStatus)
		admin.POST("/issues/:id/priority", ac.RecomputePriority)

		admin.GET("/crews", ac.GetCrews)
		admin.POST("/crews", ac.CreateCrew)

		admin.GET("/assignments", ac.GetAssignments)
		admin.POST("/assignments/:id/start", ac.StartAssignment)
		admin.POST("/assignments/:id/complete", ac.CompleteAssignment)
	}
}
