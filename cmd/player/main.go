package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/connectivity"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/device"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/localstore"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/logging"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/manifest"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/mqtt"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/playback"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/provisioning"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/redis"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/schedule"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/supervisor"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/syncqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := localstore.Open(localstore.Options{
		Dir:            cfg.DataDir,
		BlobQuotaBytes: cfg.Download.BlobQuotaBytes,
		TTLs:           map[localstore.Region]time.Duration{localstore.RegionCache: cfg.Cache.TTL},
	})
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to open local store")
	}
	defer store.Close()

	rs, closeRemote := InitRemote(ctx, cfg.Remote)
	defer closeRemote()

	var codes provisioning.CodeStore = provisioning.NewMemoryCodes()
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(cfg.Redis.Address, cfg.Redis.Username, cfg.Redis.Password)
		defer rdb.Close()
		codes = redis.NewPairingCodes(rdb)
	}

	queue := syncqueue.New(store, rs, syncqueue.Options{MaxRetries: cfg.Playback.MaxRetries})
	setup := provisioning.NewService(codes, queue, store, cfg.Redis.PairingTTL)

	deviceCode := cfg.DeviceCode
	if deviceCode == "" {
		if deviceCode, err = setup.Identity(ctx); err != nil {
			log.Error().Err(err).Msg("failed to read device identity")
		}
	}
	if deviceCode == "" {
		log.Warn().Msg("no device code configured, starting in setup mode")
	}

	engine := manifest.NewEngine(store, rs, InitFetcher(cfg), manifest.Options{
		DeviceCode:      deviceCode,
		Concurrency:     cfg.Download.Concurrency,
		DownloadTimeout: cfg.Download.Timeout,
	})
	if err := engine.Restore(); err != nil {
		log.Warn().Err(err).Msg("failed to restore device state")
	}

	monitor := connectivity.NewMonitor(connectivity.TCPProber{
		Address: cfg.Connectivity.ProbeAddress,
		Timeout: cfg.Connectivity.ProbeTimeout,
	}, cfg.Connectivity.ProbeInterval)

	player := playback.NewEngine(store, playback.Options{Fade: cfg.Playback.FadeDuration})

	session := device.New(store, monitor, engine, queue, player, device.Options{
		SyncInterval:       cfg.Playback.SyncInterval,
		DrainInterval:      cfg.Queue.DrainInterval,
		ExpiryInterval:     cfg.Cache.ExpiryInterval,
		RescheduleInterval: cfg.Playback.RescheduleInterval,
		Defaults: schedule.Defaults{
			ImageSec: cfg.Playback.DefaultImageDurationSec,
			VideoSec: cfg.Playback.DefaultVideoDurationSec,
		},
		Location: loc,
	})
	setup.OnProvisioned = func(code string) {
		if err := session.Activate(code); err != nil {
			log.Error().Err(err).Msg("failed to activate device")
		}
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	session.Register(tree)

	if cfg.MQTT.Enabled {
		client := mqtt.New(cfg.MQTT.BrokerURL, engine.DeviceCode, monitor, mqtt.Actions{
			Sync:   session.TriggerSync,
			Drain:  session.TriggerDrain,
			Reload: func() { _ = session.Reschedule() },
			Reset:  session.Reset,
		})
		session.OnSynced(client.PublishStatus)
		tree.AddSync(client)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, cfg, session, setup)
	tree.AddAPI(supervisor.NewHTTPService(&http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, 10*time.Second))

	log.Info().
		Str("device_code", deviceCode).
		Str("address", cfg.ServerAddress).
		Str("remote", cfg.Remote.Driver).
		Str("timezone", loc.String()).
		Msg("player starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("supervisor stopped")
	}
	log.Info().Msg("player stopped")
}
