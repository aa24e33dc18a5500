package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "PLAYER_CONFIG"

// DefaultConfigPaths are searched in order when PLAYER_CONFIG is unset.
var DefaultConfigPaths = []string{
	"player.yaml",
	"player.yml",
	"/etc/player/player.yaml",
}

// short env names kept from the server deployment, mapped onto koanf paths
var envAliases = map[string]string{
	"device_code":       "device_code",
	"data_dir":          "data_dir",
	"server_address":    "server_address",
	"timezone":          "timezone",
	"database_url":      "remote.database_url",
	"remote_driver":     "remote.driver",
	"jwt_secret":        "auth.jwt_secret",
	"reset_pin_hash":    "auth.reset_pin_hash",
	"redis_address":     "redis.address",
	"redis_username":    "redis.username",
	"redis_password":    "redis.password",
	"mqtt_broker_url":   "mqtt.broker_url",
	"mqtt_enabled":      "mqtt.enabled",
	"spaces_endpoint":   "spaces.endpoint",
	"spaces_region":     "spaces.region",
	"spaces_bucket":     "spaces.bucket",
	"spaces_cdn_url":    "spaces.cdn_url",
	"spaces_access_key": "spaces.access_key",
	"spaces_secret_key": "spaces.secret_key",
	"log_level":         "logging.level",
	"log_format":        "logging.format",
}

// slice-valued paths that may arrive as comma separated env strings
var sliceConfigPaths = []string{
	"remote.mutable_tables",
}

// Load reads .env, the optional config file and the environment.
func Load() (*Config, error) {
	loadDotEnv()

	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("config file loaded")
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("failed to load env file")
		}
	}
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps PLAYER_PLAYBACK__SYNC_INTERVAL to playback.sync_interval
// and the short aliases (DATABASE_URL, JWT_SECRET, ...) to their sections.
// Anything else is ignored.
func envTransform(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envAliases[key]; ok {
		return mapped
	}
	if rest, ok := strings.CutPrefix(key, "player_"); ok && rest != "config" {
		return strings.ReplaceAll(rest, "__", ".")
	}
	return ""
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
