// Package config handles loading and validation of agroflow.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/agroflow-systems/agroflow/pkg/types"
)

// Defaults applied when agroflow.yaml omits a section. The source URLs and
// throttle values come from the published terms of the upstream APIs.
const (
	DefaultWeatherArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	DefaultSoilURL           = "https://rest.isric.org/soilgrids/v2.0/properties/query"
	DefaultUserAgent         = "AgroClimateDataBot/1.0 (Research Project)"
)

// Load reads and parses agroflow.yaml from the given directory, then applies
// environment overrides (DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD,
// ETL_BATCH_SIZE) so container deployments can configure the database without
// editing the file.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "agroflow.yaml")

	var cfg types.ProjectConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No file: env + defaults only.
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// DSN renders the Postgres connection string for a database config.
func DSN(db types.DatabaseConfig) string {
	ssl := db.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, db.Password, db.Host, db.Port, db.Database, ssl)
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Database.Host == "" {
		cfg.Database.Host = "postgres"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "agroclimate"
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "etl_user"
	}

	if cfg.Weather == nil {
		cfg.Weather = &types.WeatherSourceConfig{}
	}
	if cfg.Weather.ArchiveURL == "" {
		cfg.Weather.ArchiveURL = DefaultWeatherArchiveURL
	}
	if cfg.Weather.TimeoutSeconds == 0 {
		cfg.Weather.TimeoutSeconds = 30
	}
	if cfg.Weather.RequestsPerSecond == 0 {
		cfg.Weather.RequestsPerSecond = 1.0
	}

	if cfg.Soil == nil {
		cfg.Soil = &types.SoilSourceConfig{}
	}
	if cfg.Soil.URL == "" {
		cfg.Soil.URL = DefaultSoilURL
	}
	if cfg.Soil.TimeoutSeconds == 0 {
		cfg.Soil.TimeoutSeconds = 30
	}
	if cfg.Soil.RequestsPerSecond == 0 {
		cfg.Soil.RequestsPerSecond = 1.0
	}

	if cfg.Scraper == nil {
		cfg.Scraper = &types.ScraperConfig{}
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = DefaultUserAgent
	}
	if cfg.Scraper.RequestDelay == "" {
		cfg.Scraper.RequestDelay = "2s"
	}
	if cfg.Scraper.TimeoutSeconds == 0 {
		cfg.Scraper.TimeoutSeconds = 30
	}
	if cfg.Scraper.MaxRetries == 0 {
		cfg.Scraper.MaxRetries = 3
	}

	if cfg.Pipeline == nil {
		cfg.Pipeline = &types.PipelineConfig{}
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 1000
	}
	if cfg.Pipeline.QueueDepth == 0 {
		cfg.Pipeline.QueueDepth = 256
	}
	if cfg.Pipeline.CropMinConfidence == 0 {
		cfg.Pipeline.CropMinConfidence = 0.5
	}
	if cfg.Pipeline.Retry == nil {
		cfg.Pipeline.Retry = &types.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 1}
	}

	if cfg.Partitions == nil {
		cfg.Partitions = &types.PartitionConfig{}
	}
	if cfg.Partitions.FutureYears == 0 {
		cfg.Partitions.FutureYears = 1
	}

	if cfg.Audit == nil {
		cfg.Audit = &types.AuditConfig{}
	}
	if cfg.Audit.StaleAfter == "" {
		cfg.Audit.StaleAfter = "24h"
	}

	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{Addr: ":8080"}
	}
}

func applyEnv(cfg *types.ProjectConfig) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		}
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("ETL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pipeline.BatchSize = n
		}
	}
}

func validate(cfg *types.ProjectConfig) error {
	if cfg.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if cfg.Pipeline.CropMinConfidence < 0 || cfg.Pipeline.CropMinConfidence > 1 {
		return fmt.Errorf("pipeline.cropMinConfidence must be in [0, 1]")
	}
	if cfg.Pipeline.Retry.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.retry.maxAttempts must be at least 1")
	}
	if cfg.Partitions.FutureYears < 0 {
		return fmt.Errorf("partitions.futureYears must not be negative")
	}
	return nil
}
