package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/dekvall/matkrasslig/internal/config"
	"github.com/dekvall/matkrasslig/internal/elks"
	"github.com/dekvall/matkrasslig/internal/geo"
	"github.com/dekvall/matkrasslig/internal/httpapi"
	"github.com/dekvall/matkrasslig/internal/store"
	"github.com/dekvall/matkrasslig/internal/verification"
	"github.com/dekvall/matkrasslig/internal/webhook"
	"github.com/dekvall/matkrasslig/pkg/utils"
)

// Registration SMS quota: codes per number inside the window.
const (
	smsQuotaLimit  = 3
	smsQuotaWindow = 10 * time.Minute
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, flows *webhook.Handlers, verifier *verification.Service, registry *store.Store, zips *geo.Index, rdb *redis.Client) {
	api := httpapi.Handlers{
		Verification: verifier,
		Zips:         registry,
		Geo:          zips,
		SMSQuota: func(ctx context.Context, phone string) (bool, error) {
			return utils.AllowQuota(ctx, rdb, "sms:"+phone, smsQuotaLimit, smsQuotaWindow)
		},
	}

	// public JSON API (registration form + coverage map)
	r.GET("/healthz", api.Healthz)
	r.POST("/register", api.Register)
	r.POST("/verify", api.Verify)
	r.GET("/getVolunteerLocations", api.VolunteerLocations)

	// Provider webhooks. Only the telephony provider may reach these; its
	// published User-Agent and source host gate the whole group.
	hooks := r.Group("/")
	hooks.Use(elks.RequireProvider(cfg.Elks.UserAgent, cfg.Elks.Host, nil))
	flows.Register(hooks)
}
