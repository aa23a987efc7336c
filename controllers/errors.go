package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/lifecycle"
	"civicsync-dispatch/storage"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/ctxlog"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// respondError writes the error response matching err. notFound is the
// message used for repository.ErrNotFound.
func respondError(c *gin.Context, err error, notFound string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case errors.Is(err, repository.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "The resource was modified concurrently, please retry"})
	case errors.Is(err, repository.ErrDuplicateKey):
		c.JSON(http.StatusConflict, gin.H{"error": "The resource already exists"})
	case errors.Is(err, lifecycle.ErrInvalidReport),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, storage.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctxlog.From(c.Request.Context()).Error("request failed", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
	}
}

func objectIDParam(c *gin.Context, name, message string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return primitive.NilObjectID, false
	}
	return id, true
}

// intQuery reads a positive integer query parameter, clamped to max.
func intQuery(c *gin.Context, name string, def, max int) int {
	n, err := strconv.Atoi(c.Query(name))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
