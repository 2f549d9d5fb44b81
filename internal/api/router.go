package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/stayline/stayline/internal/app"
	"github.com/stayline/stayline/internal/handlers"
	"github.com/stayline/stayline/internal/middleware"
	"github.com/stayline/stayline/internal/services"
)

// NewRouter builds the Gin engine, wires middleware and registers core routes.
func NewRouter(db *gorm.DB, registration *services.RegistrationService, cfg *app.Config) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if registration == nil {
		return nil, fmt.Errorf("registration service must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	registrationHandler, err := handlers.NewRegistrationHandler(registration)
	if err != nil {
		return nil, err
	}

	auth := r.Group("/api/auth")
	{
		auth.POST("/register", registrationHandler.Register)
		auth.POST("/resend-verification", registrationHandler.Resend)
		auth.GET("/verify", registrationHandler.Verify)
	}

	return r, nil
}
