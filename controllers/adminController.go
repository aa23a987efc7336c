package controllers

import (
	"net/http"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/lifecycle"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const defaultPriorityListSize = 50

// AdminController serves the dispatch desk: status changes, crews,
// assignment batches and field progress.
type AdminController struct {
	svc *lifecycle.Service
}

func NewAdminController(svc *lifecycle.Service) *AdminController {
	return &AdminController{svc: svc}
}

func (ac *AdminController) UpdateIssueStatus(c *gin.Context) {
	id, ok := objectIDParam(c, "id", "Invalid issue ID")
	if !ok {
		return
	}
	var input struct {
		Status models.IssueStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	issue, err := ac.svc.UpdateStatus(c.Request.Context(), id, input.Status)
	if err != nil {
		respondError(c, err, "Issue not found")
		return
	}
	c.JSON(http.StatusOK, issue)
}

// GetPriorityList returns open issues, highest priority first.
func (ac *AdminController) GetPriorityList(c *gin.Context) {
	limit := intQuery(c, "limit", defaultPriorityListSize, maxPageSize)
	issues, err := ac.svc.PriorityList(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

func (ac *AdminController) RecomputePriority(c *gin.Context) {
	id, ok := objectIDParam(c, "id", "Invalid issue ID")
	if !ok {
		return
	}
	score, err := ac.svc.RecomputePriority(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Issue not found")
		return
	}
	c.JSON(http.StatusOK, score)
}

// RunOptimization assigns crews to the current batch of verified issues.
func (ac *AdminController) RunOptimization(c *gin.Context) {
	result, err := ac.svc.RunAssignmentBatch(c.Request.Context())
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (ac *AdminController) GetCrews(c *gin.Context) {
	status := models.CrewStatus(c.Query("status"))
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid crew status"})
		return
	}
	crews, err := ac.svc.ListCrews(c.Request.Context(), status)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"crews": crews})
}

func (ac *AdminController) CreateCrew(c *gin.Context) {
	var input struct {
		Name       string   `json:"name" binding:"required,max=100"`
		Department string   `json:"department" binding:"required"`
		Phone      string   `json:"phone" binding:"max=30"`
		Email      string   `json:"email" binding:"omitempty,email"`
		Latitude   *float64 `json:"latitude"`
		Longitude  *float64 `json:"longitude"`
		Capacity   int      `json:"capacity" binding:"min=0,max=50"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	crew, err := ac.svc.CreateCrew(c.Request.Context(), lifecycle.NewCrew{
		Name:       input.Name,
		Department: input.Department,
		Phone:      input.Phone,
		Email:      input.Email,
		Latitude:   input.Latitude,
		Longitude:  input.Longitude,
		Capacity:   input.Capacity,
	})
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, crew)
}

// GetAssignments lists assignments, optionally for one crew (?crew=) and
// only the open ones (?active=true).
func (ac *AdminController) GetAssignments(c *gin.Context) {
	var crew *primitive.ObjectID
	if v := c.Query("crew"); v != "" {
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid crew ID"})
			return
		}
		crew = &id
	}
	activeOnly := c.Query("active") == "true"

	assignments, err := ac.svc.ListAssignments(c.Request.Context(), crew, activeOnly)
	if err != nil {
		respondError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

func (ac *AdminController) StartAssignment(c *gin.Context) {
	id, ok := objectIDParam(c, "id", "Invalid assignment ID")
	if !ok {
		return
	}
	a, err := ac.svc.StartAssignment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Assignment not found")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (ac *AdminController) CompleteAssignment(c *gin.Context) {
	id, ok := objectIDParam(c, "id", "Invalid assignment ID")
	if !ok {
		return
	}
	a, err := ac.svc.CompleteAssignment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Assignment not found")
		return
	}
	c.JSON(http.StatusOK, a)
}
