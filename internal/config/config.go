package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings, populated from an optional YAML file and
// environment variables. Environment variables win over the file.
type Config struct {
	FeedBaseURL string
	SiteURL     string

	// Home location used for distance and arrival estimates.
	HomeSet       bool
	HomeLatitude  float64
	HomeLongitude float64

	LatestTimeout time.Duration
	ReportTimeout time.Duration
	ImageTimeout  time.Duration
	NotifyTimeout time.Duration

	RenderEnabled bool
	ReportLogPath string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Notification channels. Empty values disable the target.
	DiscordWebhookGeneral   string
	DiscordWebhookEmergency string
	LineTokenGeneral        string
	LineTokenEmergency      string
	LineNotifyURL           string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool
}

// fileConfig is the YAML layout read from CONFIG_FILE.
type fileConfig struct {
	Home struct {
		Latitude  *float64 `yaml:"latitude"`
		Longitude *float64 `yaml:"longitude"`
	} `yaml:"home"`
	Discord struct {
		General   string `yaml:"general"`
		Emergency string `yaml:"emergency"`
	} `yaml:"discord"`
	Line struct {
		General   string `yaml:"general"`
		Emergency string `yaml:"emergency"`
	} `yaml:"line"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

// Load reads configuration from CONFIG_FILE (if set) and environment
// variables, applying defaults where unset.
func Load() (*Config, error) {
	var file fileConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse CONFIG_FILE: %w", err)
		}
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	var latest, report, image, notify time.Duration
	for _, d := range []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"LATEST_TIMEOUT", "2s", &latest},
		{"REPORT_TIMEOUT", "5s", &report},
		{"IMAGE_TIMEOUT", "2s", &image},
		{"NOTIFY_TIMEOUT", "30s", &notify},
	} {
		v, err := parsePositiveDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	homeSet, lat, lon, err := parseHome(file)
	if err != nil {
		return nil, err
	}

	renderEnabled := true
	if v := os.Getenv("RENDER_ENABLED"); v != "" {
		renderEnabled = v == "true"
	}

	brokers := sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", strings.Join(file.Kafka.Brokers, ",")))
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		FeedBaseURL: strings.TrimRight(sharedcfg.EnvOrDefault("KMONI_BASE_URL", "http://www.kmoni.bosai.go.jp"), "/"),
		SiteURL:     sharedcfg.EnvOrDefault("KMONI_SITE_URL", "http://www.kmoni.bosai.go.jp"),

		HomeSet:       homeSet,
		HomeLatitude:  lat,
		HomeLongitude: lon,

		LatestTimeout: latest,
		ReportTimeout: report,
		ImageTimeout:  image,
		NotifyTimeout: notify,

		RenderEnabled: renderEnabled,
		ReportLogPath: sharedcfg.EnvOrDefault("REPORT_LOG_PATH", "log.txt"),

		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DiscordWebhookGeneral:   sharedcfg.EnvOrDefault("DISCORD_WEBHOOK_GENERAL", file.Discord.General),
		DiscordWebhookEmergency: sharedcfg.EnvOrDefault("DISCORD_WEBHOOK_EMERGENCY", file.Discord.Emergency),
		LineTokenGeneral:        sharedcfg.EnvOrDefault("LINE_TOKEN_GENERAL", file.Line.General),
		LineTokenEmergency:      sharedcfg.EnvOrDefault("LINE_TOKEN_EMERGENCY", file.Line.Emergency),
		LineNotifyURL:           sharedcfg.EnvOrDefault("LINE_NOTIFY_URL", "https://notify-api.line.me/api/notify"),

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", orDefault(file.Kafka.Topic, "eew-alerts")),
		KafkaEnabled: kafkaEnabled,
	}

	if cfg.FeedBaseURL == "" {
		return nil, errors.New("KMONI_BASE_URL is required")
	}
	if cfg.ReportLogPath == "" {
		return nil, errors.New("REPORT_LOG_PATH is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when Kafka is enabled")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

// parseHome resolves the home location. Both coordinates must be present for
// the location to count as set; a single coordinate is a configuration error.
func parseHome(file fileConfig) (bool, float64, float64, error) {
	lat, latSet, err := coordinate("HOME_LATITUDE", file.Home.Latitude, -90, 90)
	if err != nil {
		return false, 0, 0, err
	}
	lon, lonSet, err := coordinate("HOME_LONGITUDE", file.Home.Longitude, -180, 180)
	if err != nil {
		return false, 0, 0, err
	}
	if latSet != lonSet {
		return false, 0, 0, errors.New("HOME_LATITUDE and HOME_LONGITUDE must be set together")
	}
	return latSet, lat, lon, nil
}

func coordinate(key string, fromFile *float64, lo, hi float64) (float64, bool, error) {
	s := os.Getenv(key)
	if s == "" {
		if fromFile == nil {
			return 0, false, nil
		}
		s = strconv.FormatFloat(*fromFile, 'f', -1, 64)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < lo || v > hi {
		return 0, false, fmt.Errorf("invalid %s", key)
	}
	return v, true, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
