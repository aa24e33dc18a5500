// Package config loads the player configuration.
//
// Values are layered: struct defaults, then an optional YAML file
// (player.yaml or $PLAYER_CONFIG), then environment variables. A .env file
// in the working directory is read first and never overrides real env vars.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every setting the player agent consumes.
type Config struct {
	DeviceCode    string `koanf:"device_code"`
	DataDir       string `koanf:"data_dir" validate:"required"`
	ServerAddress string `koanf:"server_address" validate:"required"`
	Timezone      string `koanf:"timezone"`

	Playback     PlaybackConfig     `koanf:"playback"`
	Queue        QueueConfig        `koanf:"queue"`
	Cache        CacheConfig        `koanf:"cache"`
	Download     DownloadConfig     `koanf:"download"`
	Connectivity ConnectivityConfig `koanf:"connectivity"`
	Remote       RemoteConfig       `koanf:"remote"`
	Redis        RedisConfig        `koanf:"redis"`
	MQTT         MQTTConfig         `koanf:"mqtt"`
	Spaces       SpacesConfig       `koanf:"spaces"`
	Auth         AuthConfig         `koanf:"auth"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// PlaybackConfig is the device "configuration object" shared with the renderer.
type PlaybackConfig struct {
	SyncInterval            time.Duration `koanf:"sync_interval" json:"-" validate:"min=1s"`
	MaxRetries              int           `koanf:"max_retries" json:"max_retries" validate:"min=1"`
	DefaultImageDurationSec int           `koanf:"default_image_duration_sec" json:"default_image_duration_sec" validate:"min=1"`
	DefaultVideoDurationSec int           `koanf:"default_video_duration_sec" json:"default_video_duration_sec" validate:"min=1"`
	FadeDuration            time.Duration `koanf:"fade_duration" json:"-"`
	RescheduleInterval      time.Duration `koanf:"reschedule_interval" json:"-" validate:"min=1s"`
	TimeSnapMinutes         int           `koanf:"time_snap_minutes" json:"time_snap_minutes"`
}

// SyncIntervalMs mirrors the wire name used by player pages.
func (p PlaybackConfig) SyncIntervalMs() int64 {
	return p.SyncInterval.Milliseconds()
}

type QueueConfig struct {
	DrainInterval time.Duration `koanf:"drain_interval" validate:"min=1s"`
}

type CacheConfig struct {
	TTL            time.Duration `koanf:"ttl"`
	ExpiryInterval time.Duration `koanf:"expiry_interval" validate:"min=1s"`
}

type DownloadConfig struct {
	Concurrency    int           `koanf:"concurrency" validate:"min=1,max=16"`
	Timeout        time.Duration `koanf:"timeout"`
	BlobQuotaBytes int64         `koanf:"blob_quota_bytes" validate:"min=0"`
}

type ConnectivityConfig struct {
	ProbeAddress  string        `koanf:"probe_address"`
	ProbeInterval time.Duration `koanf:"probe_interval"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
}

type RemoteConfig struct {
	Driver         string   `koanf:"driver" validate:"oneof=postgres memory"`
	DatabaseURL    string   `koanf:"database_url" validate:"required_if=Driver postgres"`
	ConnectRetries int      `koanf:"connect_retries" validate:"min=1"`
	MutableTables  []string `koanf:"mutable_tables"`
}

type RedisConfig struct {
	Address    string        `koanf:"address"`
	Username   string        `koanf:"username"`
	Password   string        `koanf:"password"`
	PairingTTL time.Duration `koanf:"pairing_ttl"`
}

type MQTTConfig struct {
	Enabled   bool   `koanf:"enabled"`
	BrokerURL string `koanf:"broker_url" validate:"required_if=Enabled true"`
}

type SpacesConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	CDNURL    string `koanf:"cdn_url"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

// Enabled reports whether s3:// media can be fetched.
func (s SpacesConfig) Enabled() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

type AuthConfig struct {
	JWTSecret    string `koanf:"jwt_secret"`
	ResetPINHash string `koanf:"reset_pin_hash"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

// DefaultMutableTables are the remote collections a device may write to.
var DefaultMutableTables = []string{
	"devices",
	"device_detection_logs",
	"device_status_logs",
	"playback_logs",
}

func defaultConfig() Config {
	return Config{
		DataDir:       "./data",
		ServerAddress: ":8090",
		Timezone:      "Local",
		Playback: PlaybackConfig{
			SyncInterval:            30 * time.Second,
			MaxRetries:              3,
			DefaultImageDurationSec: 10,
			DefaultVideoDurationSec: 8,
			FadeDuration:            500 * time.Millisecond,
			RescheduleInterval:      15 * time.Second,
			TimeSnapMinutes:         15,
		},
		Queue: QueueConfig{
			DrainInterval: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:            time.Hour,
			ExpiryInterval: 10 * time.Minute,
		},
		Download: DownloadConfig{
			Concurrency:    2,
			Timeout:        5 * time.Minute,
			BlobQuotaBytes: 8 << 30,
		},
		Connectivity: ConnectivityConfig{
			ProbeAddress:  "1.1.1.1:53",
			ProbeInterval: 5 * time.Second,
			ProbeTimeout:  2 * time.Second,
		},
		Remote: RemoteConfig{
			Driver:         "postgres",
			ConnectRetries: 10,
			MutableTables:  DefaultMutableTables,
		},
		Redis: RedisConfig{
			PairingTTL: 5 * time.Minute,
		},
		MQTT: MQTTConfig{
			Enabled:   true,
			BrokerURL: "tcp://127.0.0.1:1883",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Playback.FadeDuration < 0 {
		return fmt.Errorf("invalid configuration: playback.fade_duration must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
