package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"meetingapp-backend/internal/generation"
	"meetingapp-backend/internal/services/health"
	"meetingapp-backend/internal/shared/config"
	"meetingapp-backend/internal/shared/metrics"
	"meetingapp-backend/internal/shared/server/middleware"
	"meetingapp-backend/internal/shared/server/respond"
)

const callbackGroup = "CALLBACK"

// RouterDeps carries the handlers mounted on the engine.
type RouterDeps struct {
	Config     config.Config
	Generation *generation.Handler
	Health     *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigins),
		middleware.RateLimit(middleware.RateLimitConfig{
			GroupFor: func(c *gin.Context) string {
				if c.FullPath() == "/api/efrsb-message/callback" {
					return callbackGroup
				}
				return ""
			},
			Rules: map[string]middleware.RateLimitRule{
				"DEFAULT":     {Rate: 5, Burst: 20},
				callbackGroup: {Rate: 50, Burst: 200},
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	api.GET("/ping", func(c *gin.Context) {
		respond.OK(c, gin.H{"message": "pong"})
	})
	api.GET("/health", func(c *gin.Context) {
		ok, checks := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, gin.H{"ok": ok, "checks": checks})
	})

	if deps.Generation != nil {
		deps.Generation.RegisterRoutes(api, middleware.APIKey(deps.Config.APIKey))
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
