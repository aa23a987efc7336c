package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"civicsync-dispatch/config"
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/models"
	"civicsync-dispatch/repository"
	authUtils "civicsync-dispatch/utils"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/ctxlog"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const cookieMaxAge = 3600

type AuthController struct {
	repo        repository.Repository
	jwtSecret   string
	production  bool
	domain      string
	adminEmails []string
}

func NewAuthController(repo repository.Repository, s *config.Settings) *AuthController {
	return &AuthController{
		repo:        repo,
		jwtSecret:   s.JWTSecret,
		production:  s.IsProduction(),
		domain:      s.Domain,
		adminEmails: s.AdminEmails,
	}
}

// RegisterUser handles user registration
func (a *AuthController) RegisterUser(c *gin.Context) {
	var input struct {
		Name     string `json:"name" binding:"required,max=50"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := a.repo.GetUserByEmail(ctx, input.Email); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		respondError(c, err, "")
		return
	}

	now := time.Now()
	user := models.User{
		Name:      input.Name,
		Email:     input.Email,
		Password:  input.Password,
		Role:      a.roleFor(input.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := user.HashPassword(); err != nil {
		ctxlog.From(ctx).Error("failed to hash password", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	if err := a.repo.InsertUser(ctx, &user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User with this email already exists"})
			return
		}
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
	})
}

// LoginUser checks the credentials and sets the auth_token cookie. The token
// is also returned in the body for clients that send it as a bearer header.
func (a *AuthController) LoginUser(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	user, err := a.repo.GetUserByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		respondError(c, err, "")
		return
	}

	if !user.ComparePassword(input.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := authUtils.GenerateToken(a.jwtSecret, user.ID.Hex(), user.Role)
	if err != nil {
		ctxlog.From(ctx).Error("failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     middlewares.AuthCookie,
		Value:    token,
		MaxAge:   cookieMaxAge,
		Path:     "/",
		Domain:   a.cookieDomain(),
		Secure:   a.production,
		HttpOnly: true,
		SameSite: http.SameSiteNoneMode,
	})

	c.JSON(http.StatusOK, gin.H{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
		"token":     token,
	})
}

// GetMe retrieves the authenticated user's information
func (a *AuthController) GetMe(c *gin.Context) {
	objectID, err := primitive.ObjectIDFromHex(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return
	}

	user, err := a.repo.GetUser(c.Request.Context(), objectID)
	if err != nil {
		respondError(c, err, "User not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
	})
}

// LogoutUser clears the auth_token cookie
func (a *AuthController) LogoutUser(c *gin.Context) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(middlewares.AuthCookie, "", -1, "/", a.cookieDomain(), a.production, true)
	c.JSON(http.StatusOK, gin.H{
		"message": "Logged out successfully",
	})
}

// Production cookies carry no domain so they work cross-origin.
func (a *AuthController) cookieDomain() string {
	if a.production {
		return ""
	}
	return a.domain
}

func (a *AuthController) roleFor(email string) models.Role {
	for _, admin := range a.adminEmails {
		if strings.EqualFold(admin, email) {
			return models.RoleAdmin
		}
	}
	return models.RoleCitizen
}
