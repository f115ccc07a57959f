package types

// DatabaseConfig holds Postgres connection settings. Fields mirror the
// DB_* environment variables honored by Load.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslMode,omitempty"`
}

// WeatherSourceConfig configures the Open-Meteo archive client.
type WeatherSourceConfig struct {
	ArchiveURL        string  `yaml:"archiveUrl"`
	TimeoutSeconds    int     `yaml:"timeout,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
}

// SoilSourceConfig configures the ISRIC SoilGrids client.
type SoilSourceConfig struct {
	URL               string  `yaml:"url"`
	TimeoutSeconds    int     `yaml:"timeout,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
}

// ScraperConfig configures the crop-profile scraper.
type ScraperConfig struct {
	UserAgent         string  `yaml:"userAgent,omitempty"`
	RequestDelay      string  `yaml:"requestDelay,omitempty"` // e.g. "2s"
	TimeoutSeconds    int     `yaml:"timeout,omitempty"`
	MaxRetries        int     `yaml:"maxRetries,omitempty"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
}

// RetryPolicy configures per-stage retry behavior for transient failures.
type RetryPolicy struct {
	MaxAttempts    int `yaml:"maxAttempts"`
	BackoffSeconds int `yaml:"backoffSeconds"`
}

// PipelineConfig holds orchestration settings shared by all entity pipelines.
type PipelineConfig struct {
	BatchSize         int          `yaml:"batchSize,omitempty"`         // fact loader flush threshold
	QueueDepth        int          `yaml:"queueDepth,omitempty"`        // bounded extractor channel
	CropMinConfidence float64      `yaml:"cropMinConfidence,omitempty"` // confidence floor
	Retry             *RetryPolicy `yaml:"retry,omitempty"`
}

// PartitionConfig controls proactive fact partition provisioning.
type PartitionConfig struct {
	FutureYears int `yaml:"futureYears,omitempty"`
}

// AuditConfig controls the stale-batch recovery scan.
type AuditConfig struct {
	StaleAfter string `yaml:"staleAfter,omitempty"` // e.g. "24h"
}

// ServerConfig holds HTTP server settings for the audit API.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty"`
}

// ProjectConfig represents the top-level agroflow.yaml configuration.
type ProjectConfig struct {
	Database   DatabaseConfig       `yaml:"database"`
	Weather    *WeatherSourceConfig `yaml:"weather,omitempty"`
	Soil       *SoilSourceConfig    `yaml:"soil,omitempty"`
	Scraper    *ScraperConfig       `yaml:"scraper,omitempty"`
	Pipeline   *PipelineConfig      `yaml:"pipeline,omitempty"`
	Partitions *PartitionConfig     `yaml:"partitions,omitempty"`
	Audit      *AuditConfig         `yaml:"audit,omitempty"`
	Server     *ServerConfig        `yaml:"server,omitempty"`
}
