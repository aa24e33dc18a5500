package main

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/device"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api"
	tvapi "github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/http/api/tv/endpoints"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/provisioning"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(r *gin.Engine, cfg *config.Config, session *device.Session, setup *provisioning.Service) {
	// CORS
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"OPTIONS",
			"HEAD",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
			"If-None-Match",
		},
		ExposeHeaders: []string{
			"Content-Length",
			"ETag",
		},
		AllowCredentials: false,
	}))

	api.MountGroup(r, api.GroupConfig{
		Prefix: "/api/tv",
	},
		tvapi.PlayerModule(session, cfg.Playback),
		tvapi.SetupModule(session, setup, cfg.Auth),
		tvapi.SocketModule(session),
	)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
