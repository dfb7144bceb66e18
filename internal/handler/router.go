package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/pkg/config"
	"github.com/gympulse/gympulse-api/pkg/logger"
	corsmiddleware "github.com/gympulse/gympulse-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gympulse/gympulse-api/pkg/middleware/requestid"
)

// ReadinessCheck reports whether a backing dependency is reachable.
type ReadinessCheck func() error

// Handlers bundles everything the router wires up.
type Handlers struct {
	Checkin *CheckinHandler
	Churn   *ChurnHandler
	Report  *ReportHandler
	Metrics *MetricsHandler
}

// NewRouter assembles the gin engine with the standard middleware chain and
// all API routes under the configured prefix.
func NewRouter(cfg *config.Config, logr *zap.Logger, h Handlers, readiness map[string]ReadinessCheck) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", func(c *gin.Context) {
		for name, check := range readiness {
			if err := check(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "unavailable",
					"component": name,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/checkins", h.Checkin.Register)
		api.POST("/checkins/batch", h.Checkin.RegisterBatch)
		api.GET("/students/:id/visits", h.Checkin.History)
		api.GET("/students/:id/churn", h.Churn.Score)
		api.POST("/churn/train", h.Churn.Train)
		api.POST("/churn/score", h.Churn.ScoreAll)
		api.GET("/churn/model", h.Churn.ModelStats)
		api.POST("/reports/daily", h.Report.RequestDaily)
	}
	return r
}
