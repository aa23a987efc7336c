package controllers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/lifecycle"
	"civicsync-dispatch/storage"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// MaxImageBytes bounds an uploaded photo.
	MaxImageBytes = 10 << 20

	defaultHotspotDays = 30
	maxHotspotDays     = 365
	maxPageSize        = 100
)

type IssueController struct {
	svc *lifecycle.Service
}

func NewIssueController(svc *lifecycle.Service) *IssueController {
	return &IssueController{svc: svc}
}

// CreateIssue accepts a multipart report. A report that duplicates an open
// issue is merged into it and answered with 200 and merged=true.
func (ic *IssueController) CreateIssue(c *gin.Context) {
	var input struct {
		Title       string   `form:"title" binding:"required,max=200"`
		Description string   `form:"description" binding:"max=5000"`
		Category    string   `form:"category"`
		Latitude    *float64 `form:"latitude" binding:"required"`
		Longitude   *float64 `form:"longitude" binding:"required"`
		Address     string   `form:"address" binding:"max=500"`
	}

	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reporter, err := primitive.ObjectIDFromHex(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	image, ok := readImage(c)
	if !ok {
		return
	}

	report := lifecycle.Report{
		ReporterID:  reporter,
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Latitude:    *input.Latitude,
		Longitude:   *input.Longitude,
		Image:       image,
	}
	if addr := strings.TrimSpace(input.Address); addr != "" {
		report.Address = &addr
	}

	result, err := ic.svc.SubmitReport(c.Request.Context(), report)
	if err != nil {
		respondError(c, err, "Issue not found")
		return
	}

	if result.Merged {
		c.JSON(http.StatusOK, gin.H{
			"issue":      result.Issue,
			"merged":     true,
			"similarity": result.Similarity,
			"distanceKm": result.DistanceKm,
			"message":    "Similar issue already reported, your report was added as an upvote",
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"issue":  result.Issue,
		"merged": false,
	})
}

// readImage returns the optional "image" part. It writes the error response
// itself and reports false when the upload is unusable.
func readImage(c *gin.Context) ([]byte, bool) {
	header, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image upload"})
		return nil, false
	}
	if header.Size > MaxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image is too large"})
		return nil, false
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image upload"})
		return nil, false
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image upload"})
		return nil, false
	}
	if len(data) > MaxImageBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image is too large"})
		return nil, false
	}
	if len(data) == 0 {
		return nil, true
	}
	if _, _, err := storage.DetectImage(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only JPEG, PNG, GIF and WebP images are accepted"})
		return nil, false
	}
	return data, true
}

// GetAllIssues lists canonical issues by priority with optional category and
// status filters.
func (ic *IssueController) GetAllIssues(c *gin.Context) {
	page := intQuery(c, "page", 1, 1<<20)
	limit := intQuery(c, "limit", 10, maxPageSize)

	q := lifecycle.IssueQuery{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if v := c.Query("category"); v != "" {
		q.Category = models.IssueCategory(v)
		if !q.Category.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
			return
		}
	}
	if v := c.Query("status"); v != "" {
		q.Status = models.IssueStatus(v)
		if !q.Status.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
			return
		}
	}

	issues, total, err := ic.svc.ListIssues(c.Request.Context(), q)
	if err != nil {
		respondError(c, err, "")
		return
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	c.JSON(http.StatusOK, gin.H{
		"issues":      issues,
		"totalIssues": total,
		"totalPages":  totalPages,
		"currentPage": page,
	})
}

func (ic *IssueController) GetIssue(c *gin.Context) {
	id, ok := objectIDParam(c, "id", "Invalid issue ID")
	if !ok {
		return
	}
	issue, err := ic.svc.GetIssue(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Issue not found")
		return
	}
	c.JSON(http.StatusOK, issue)
}

// GetIssuePriority returns the stored score breakdown of an issue.
func (ic *IssueController) GetIssuePriority(c *gin.Context) {
	id, ok := objectIDParam(c, "id", "Invalid issue ID")
	if !ok {
		return
	}
	score, err := ic.svc.PriorityBreakdown(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Priority score not found")
		return
	}
	c.JSON(http.StatusOK, score)
}

// GetHotspots clusters recent issues; ?days= sets the window.
func (ic *IssueController) GetHotspots(c *gin.Context) {
	var category models.IssueCategory
	if v := c.Query("category"); v != "" {
		category = models.IssueCategory(v)
		if !category.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid category"})
			return
		}
	}
	days := intQuery(c, "days", defaultHotspotDays, maxHotspotDays)

	hotspots, err := ic.svc.Hotspots(c.Request.Context(), category, time.Duration(days)*24*time.Hour)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hotspots": hotspots,
		"days":     days,
	})
}
