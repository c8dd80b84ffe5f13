package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// Exchange name
	ExchangeName = "coursegrab_exchange"

	// Routing keys
	RoutingJobLog     = "log.download"
	RoutingRunCommand = "command.run"

	// Exchange type
	ExchangeTypeTopic = "topic"
)

// Defaults consumed by the download engine.
const (
	DefaultConcurrency   = 2
	DefaultMaxRetries    = 5
	DefaultCacheTTLMs    = 7 * 24 * 60 * 60 * 1000 // 7 days
	DefaultDownloadDir   = "courses"
	DefaultMaxAuthRetry  = 2
	DefaultLedgerFile    = "downloads.csv"
	DefaultCacheFile     = "course_cache.json"
	DefaultQualityHeight = 1080
)

// Config is the struct that holds the configuration of the application
type Config struct {
	App        AppConfig        `json:"app"`
	Downloader DownloaderConfig `json:"downloader"`
	Cache      CacheConfig      `json:"cache"`
	Catalog    CatalogConfig    `json:"catalog"`
	RabbitMq   RabbitMQConfig   `json:"rabbitmq"`
	WebPanel   WebPanelConfig   `json:"webpanel"`
}

type AppConfig struct {
	Name     string `json:"name"`
	LogLevel int    `json:"logLevel"`
	Env      string `json:"env"`
}

type DownloaderConfig struct {
	Concurrency   int      `json:"concurrency"`
	MaxRetries    int      `json:"maxRetries"`
	DownloadDir   string   `json:"downloadDir"`
	QualityHeight int      `json:"qualityHeight"`
	SubtitleLangs []string `json:"subtitleLangs"`
	LedgerFile    string   `json:"ledgerFile"`
	FetchTool     string   `json:"fetchTool"`
	TranscodeTool string   `json:"transcodeTool"`
}

type CacheConfig struct {
	File     string `json:"file"`
	TTLMs    int64  `json:"ttlMs"`
	Disabled bool   `json:"disabled"`
}

type CatalogConfig struct {
	UserAgent      string `json:"userAgent"`
	LoginURL       string `json:"loginUrl"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	MaxAuthRetries int    `json:"maxAuthRetries"`
	Headless       bool   `json:"headless"`
}

type RabbitMQConfig struct {
	URL              string     `json:"url"`
	Exchange         string     `json:"exchange"`
	Queue            QueueNames `json:"queue"`
	ReconnectRetries int        `json:"reconnectRetries"`
	ReconnectTimeout int        `json:"reconnectTimeout"`
}

type WebPanelConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type QueueNames struct {
	JobLog  string `json:"jobLog"`
	Command string `json:"command"`
}

// Load config from config.json
func Load() (*Config, error) {
	// Credentials live in .env when present; missing file is fine
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config") // File name without extension
	v.SetConfigType("json")   // Set to JSON format
	v.AddConfigPath(".")      // Look for config file in current directory
	v.AutomaticEnv()

	// Try to read configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal JSON to Config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override from environment variables if available
	if envURL := os.Getenv("RABBITMQ_URL"); envURL != "" {
		config.RabbitMq.URL = envURL
	}
	if email := os.Getenv("CATALOG_EMAIL"); email != "" {
		config.Catalog.Email = email
	}
	if password := os.Getenv("CATALOG_PASSWORD"); password != "" {
		config.Catalog.Password = password
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills every zero value the engine requires with its default.
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "coursegrab"
	}
	if c.Downloader.Concurrency < 1 {
		c.Downloader.Concurrency = DefaultConcurrency
	}
	if c.Downloader.MaxRetries < 1 {
		c.Downloader.MaxRetries = DefaultMaxRetries
	}
	if c.Downloader.DownloadDir == "" {
		c.Downloader.DownloadDir = DefaultDownloadDir
	}
	if c.Downloader.QualityHeight <= 0 {
		c.Downloader.QualityHeight = DefaultQualityHeight
	}
	if c.Downloader.LedgerFile == "" {
		c.Downloader.LedgerFile = DefaultLedgerFile
	}
	if c.Downloader.FetchTool == "" {
		c.Downloader.FetchTool = "yt-dlp"
	}
	if c.Downloader.TranscodeTool == "" {
		c.Downloader.TranscodeTool = "ffmpeg"
	}
	if c.Cache.TTLMs <= 0 {
		c.Cache.TTLMs = DefaultCacheTTLMs
	}
	if c.Cache.File == "" {
		c.Cache.File = DefaultCacheFile
	}
	if c.Catalog.MaxAuthRetries < 1 {
		c.Catalog.MaxAuthRetries = DefaultMaxAuthRetry
	}
}

// CacheTTL returns the cache time-to-live as a duration.
func (c *CacheConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// Get config for app
func (c *Config) GetAppConfig() *AppConfig {
	return &c.App
}

// Get config for the download engine
func (c *Config) GetDownloaderConfig() *DownloaderConfig {
	return &c.Downloader
}

// Get config for the manifest cache
func (c *Config) GetCacheConfig() *CacheConfig {
	return &c.Cache
}

// Get config for catalog discovery
func (c *Config) GetCatalogConfig() *CatalogConfig {
	return &c.Catalog
}

// Get config for web panel
func (c *Config) GetWebPanelConfig() *WebPanelConfig {
	return &c.WebPanel
}

// Get config for RabbitMQ
func (c *Config) GetRabbitMQConfig() *RabbitMQConfig {
	return &c.RabbitMq
}
