package main

import (
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/config"
	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/storage"
)

// InitFetcher builds the media fetcher. s3:// and CDN URLs go through Spaces
// when credentials are configured.
func InitFetcher(cfg *config.Config) storage.Fetcher {
	router := &storage.Router{
		HTTP:  storage.NewHTTPFetcher(cfg.Download.Timeout),
		Local: storage.NewLocalFetcher("./media"),
	}
	if cfg.Spaces.Enabled() {
		sf, err := storage.NewSpacesFetcher(
			cfg.Spaces.Endpoint,
			cfg.Spaces.Region,
			cfg.Spaces.Bucket,
			cfg.Spaces.CDNURL,
			cfg.Spaces.AccessKey,
			cfg.Spaces.SecretKey,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize Spaces fetcher")
		}
		router.Spaces = sf
		log.Info().Str("cdn", cfg.Spaces.CDNURL).Str("bucket", cfg.Spaces.Bucket).Msg("Using DigitalOcean Spaces for media")
	}
	return router
}
