package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/database"
	"github.com/maltedev/catalog-scraper/internal/scraper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Browser  BrowserConfig  `yaml:"browser"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Export   ExportConfig   `yaml:"export"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type CrawlConfig struct {
	StartURL             string        `yaml:"start_url"`
	MaxPages             int           `yaml:"max_pages"`
	SettleRetries        int           `yaml:"settle_retries"`
	StallRetryCeiling    int           `yaml:"stall_retry_ceiling"`
	EmptyPageThreshold   int           `yaml:"empty_page_threshold"`
	RunRetryBudget       int           `yaml:"run_retry_budget"`
	DisabledConfirmDelay time.Duration `yaml:"disabled_confirm_delay"`
	AdvanceDelayMin      time.Duration `yaml:"advance_delay_min"`
	AdvanceDelayMax      time.Duration `yaml:"advance_delay_max"`
	TopN                 int           `yaml:"top_n"`
	MaxConcurrentRuns    int           `yaml:"max_concurrent_runs"`
}

type BrowserConfig struct {
	Headless        bool          `yaml:"headless"`
	Timeout         time.Duration `yaml:"timeout"`
	ViewportWidth   int           `yaml:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height"`
	AcceptLanguage  string        `yaml:"accept_language"`
	TimezoneID      string        `yaml:"timezone"`
	Locale          string        `yaml:"locale"`
	ProxyServer     string        `yaml:"proxy_server"`
	ScrollStep      int           `yaml:"scroll_step"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
	WaitNetworkIdle bool          `yaml:"wait_network_idle"`
	NextSelector    string        `yaml:"next_selector"`
	ClickWait       time.Duration `yaml:"click_wait"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration before any file or environment
// overrides.
func Default() *Config {
	crawl := scraper.DefaultOptions()
	b := browser.DefaultOptions()

	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Crawl: CrawlConfig{
			MaxPages:             crawl.MaxPages,
			SettleRetries:        crawl.SettleRetries,
			StallRetryCeiling:    crawl.StallRetryCeiling,
			EmptyPageThreshold:   crawl.EmptyPageThreshold,
			RunRetryBudget:       crawl.RunRetryBudget,
			DisabledConfirmDelay: crawl.DisabledConfirmDelay,
			AdvanceDelayMin:      crawl.AdvanceDelayMin,
			AdvanceDelayMax:      crawl.AdvanceDelayMax,
			TopN:                 crawl.TopN,
			MaxConcurrentRuns:    2,
		},
		Browser: BrowserConfig{
			Headless:        b.Headless,
			Timeout:         b.Timeout,
			ViewportWidth:   b.ViewportWidth,
			ViewportHeight:  b.ViewportHeight,
			AcceptLanguage:  b.AcceptLanguage,
			TimezoneID:      b.TimezoneID,
			Locale:          b.Locale,
			ScrollStep:      b.ScrollStep,
			SettleDelay:     b.SettleDelay,
			WaitNetworkIdle: b.WaitNetworkIdle,
			NextSelector:    b.NextSelector,
			ClickWait:       b.ClickWait,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			DBName:   "catalog_scraper",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "stream:catalog_crawl",
			MaxLen: 10000,
		},
		Export: ExportConfig{
			Dir:    "output",
			Format: "csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the defaults, then the YAML file named by CONFIG_FILE if set,
// then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.AllowedOrigins = getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", c.Server.AllowedOrigins)

	c.Crawl.StartURL = getEnvOrDefault("CRAWL_START_URL", c.Crawl.StartURL)
	c.Crawl.MaxPages = getIntOrDefault("CRAWL_MAX_PAGES", c.Crawl.MaxPages)
	c.Crawl.SettleRetries = getIntOrDefault("CRAWL_SETTLE_RETRIES", c.Crawl.SettleRetries)
	c.Crawl.StallRetryCeiling = getIntOrDefault("CRAWL_STALL_RETRY_CEILING", c.Crawl.StallRetryCeiling)
	c.Crawl.EmptyPageThreshold = getIntOrDefault("CRAWL_EMPTY_PAGE_THRESHOLD", c.Crawl.EmptyPageThreshold)
	c.Crawl.RunRetryBudget = getIntOrDefault("CRAWL_RUN_RETRY_BUDGET", c.Crawl.RunRetryBudget)
	c.Crawl.DisabledConfirmDelay = getDurationOrDefault("CRAWL_DISABLED_CONFIRM_DELAY", c.Crawl.DisabledConfirmDelay)
	c.Crawl.AdvanceDelayMin = getDurationOrDefault("CRAWL_ADVANCE_DELAY_MIN", c.Crawl.AdvanceDelayMin)
	c.Crawl.AdvanceDelayMax = getDurationOrDefault("CRAWL_ADVANCE_DELAY_MAX", c.Crawl.AdvanceDelayMax)
	c.Crawl.TopN = getIntOrDefault("CRAWL_TOP_N", c.Crawl.TopN)
	c.Crawl.MaxConcurrentRuns = getIntOrDefault("CRAWL_MAX_CONCURRENT_RUNS", c.Crawl.MaxConcurrentRuns)

	c.Browser.Headless = getBoolOrDefault("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.Timeout = getDurationOrDefault("BROWSER_TIMEOUT", c.Browser.Timeout)
	c.Browser.ViewportWidth = getIntOrDefault("BROWSER_VIEWPORT_WIDTH", c.Browser.ViewportWidth)
	c.Browser.ViewportHeight = getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", c.Browser.ViewportHeight)
	c.Browser.AcceptLanguage = getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", c.Browser.AcceptLanguage)
	c.Browser.TimezoneID = getEnvOrDefault("BROWSER_TIMEZONE", c.Browser.TimezoneID)
	c.Browser.Locale = getEnvOrDefault("BROWSER_LOCALE", c.Browser.Locale)
	c.Browser.ProxyServer = getEnvOrDefault("BROWSER_PROXY", c.Browser.ProxyServer)
	c.Browser.ScrollStep = getIntOrDefault("BROWSER_SCROLL_STEP", c.Browser.ScrollStep)
	c.Browser.SettleDelay = getDurationOrDefault("BROWSER_SETTLE_DELAY", c.Browser.SettleDelay)
	c.Browser.WaitNetworkIdle = getBoolOrDefault("BROWSER_WAIT_NETWORK_IDLE", c.Browser.WaitNetworkIdle)
	c.Browser.NextSelector = getEnvOrDefault("BROWSER_NEXT_SELECTOR", c.Browser.NextSelector)
	c.Browser.ClickWait = getDurationOrDefault("BROWSER_CLICK_WAIT", c.Browser.ClickWait)

	c.Database.Enabled = getBoolOrDefault("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getIntOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnvOrDefault("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = getIntOrDefault("DB_MAX_CONNS", c.Database.MaxConns)

	c.Redis.Enabled = getBoolOrDefault("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntOrDefault("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnvOrDefault("REDIS_STREAM", c.Redis.Stream)
	c.Redis.MaxLen = int64(getIntOrDefault("REDIS_STREAM_MAX_LEN", int(c.Redis.MaxLen)))

	c.Export.Dir = getEnvOrDefault("EXPORT_DIR", c.Export.Dir)
	c.Export.Format = getEnvOrDefault("EXPORT_FORMAT", c.Export.Format)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Crawl.MaxPages < 1 {
		return fmt.Errorf("CRAWL_MAX_PAGES must be at least 1")
	}

	if c.Crawl.SettleRetries < 1 {
		return fmt.Errorf("CRAWL_SETTLE_RETRIES must be at least 1")
	}

	if c.Crawl.StallRetryCeiling < 0 || c.Crawl.RunRetryBudget < 0 {
		return fmt.Errorf("retry ceilings cannot be negative")
	}

	if c.Crawl.AdvanceDelayMin > c.Crawl.AdvanceDelayMax {
		return fmt.Errorf("CRAWL_ADVANCE_DELAY_MIN cannot be greater than CRAWL_ADVANCE_DELAY_MAX")
	}

	if c.Crawl.MaxConcurrentRuns < 1 {
		return fmt.Errorf("CRAWL_MAX_CONCURRENT_RUNS must be at least 1")
	}

	if c.Browser.NextSelector == "" {
		return fmt.Errorf("BROWSER_NEXT_SELECTOR is required")
	}

	switch c.Export.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("EXPORT_FORMAT must be csv or json, got %q", c.Export.Format)
	}

	return nil
}

// CrawlOptions maps the crawl section onto crawler options.
func (c *Config) CrawlOptions() *scraper.Options {
	return &scraper.Options{
		MaxPages:             c.Crawl.MaxPages,
		SettleRetries:        c.Crawl.SettleRetries,
		StallRetryCeiling:    c.Crawl.StallRetryCeiling,
		EmptyPageThreshold:   c.Crawl.EmptyPageThreshold,
		RunRetryBudget:       c.Crawl.RunRetryBudget,
		DisabledConfirmDelay: c.Crawl.DisabledConfirmDelay,
		AdvanceDelayMin:      c.Crawl.AdvanceDelayMin,
		AdvanceDelayMax:      c.Crawl.AdvanceDelayMax,
		TopN:                 c.Crawl.TopN,
	}
}

func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.ViewportWidth = c.Browser.ViewportWidth
	opts.ViewportHeight = c.Browser.ViewportHeight
	opts.AcceptLanguage = c.Browser.AcceptLanguage
	opts.TimezoneID = c.Browser.TimezoneID
	opts.Locale = c.Browser.Locale
	opts.ProxyServer = c.Browser.ProxyServer
	opts.ScrollStep = c.Browser.ScrollStep
	opts.SettleDelay = c.Browser.SettleDelay
	opts.WaitNetworkIdle = c.Browser.WaitNetworkIdle
	opts.NextSelector = c.Browser.NextSelector
	opts.ClickWait = c.Browser.ClickWait
	return opts
}

func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Host:        c.Database.Host,
		Port:        c.Database.Port,
		User:        c.Database.User,
		Password:    c.Database.Password,
		Database:    c.Database.DBName,
		SSLMode:     c.Database.SSLMode,
		MaxConns:    int32(c.Database.MaxConns),
		MinConns:    1,
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
