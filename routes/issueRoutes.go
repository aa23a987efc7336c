package routes

import (
	"civicsync-dispatch/controllers"

	"github.com/gin-gonic/gin"
)

// IssueRoutes sets up the citizen facing issue routes
func IssueRoutes(r *gin.Engine, ic *controllers.IssueController, requireAuth, rateLimit gin.HandlerFunc) {
	issue := r.Group("/api/issue", requireAuth)
	{
		issue.POST("/create", rateLimit, ic.CreateIssue)
		issue.GET("", ic.GetAllIssues)
		issue.GET("/hotspots", ic.GetHotspots)
		issue.GET("/:id", ic.GetIssue)
		issue.GET("/:id/priority", ic.GetIssuePriority)
	}
}
