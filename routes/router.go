package routes

import (
	"log/slog"
	"net/http"
	"time"

	"civicsync-dispatch/config"
	"civicsync-dispatch/controllers"
	"civicsync-dispatch/middlewares"
	"civicsync-dispatch/repository"
	"civicsync-dispatch/services/lifecycle"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Dependencies are the collaborators the HTTP layer is built from. Redis
// may be nil, which disables rate limiting.
type Dependencies struct {
	Settings *config.Settings
	Logger   *slog.Logger
	Repo     repository.Repository
	Service  *lifecycle.Service
	Redis    *redis.Client
}

// NewRouter wires middlewares, controllers and routes into a gin engine.
func NewRouter(d Dependencies) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = controllers.MaxImageBytes + 1<<20
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestLogger(d.Logger))
	r.Use(cors.New(corsConfig(d.Settings.Origins)))

	requireAuth := middlewares.AuthMiddleware(d.Settings.JWTSecret)
	rateLimit := middlewares.IssueRateLimiter(d.Redis, d.Settings.RateLimitQueue, d.Settings.IssueRateLimit)

	HealthRoutes(r)
	AuthRoutes(r, controllers.NewAuthController(d.Repo, d.Settings), requireAuth)
	IssueRoutes(r, controllers.NewIssueController(d.Service), requireAuth, rateLimit)
	AdminRoutes(r, controllers.NewAdminController(d.Service), requireAuth)
	return r
}

func HealthRoutes(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "civicsync-dispatch", "status": "running"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
}

// Without configured origins any origin is allowed, but without credentials.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middlewares.RequestIDHeader},
		ExposeHeaders: []string{middlewares.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
