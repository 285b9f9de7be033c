package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DateLayout = "2006-01-02"

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Redis       RedisConfig       `yaml:"redis"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	LogLevel    string            `yaml:"log_level"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"`
}

// DSN returns the connection string for the configured driver. An explicit URL
// wins over the individual Postgres fields.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type MarketplaceConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	SearchTerms  []string      `yaml:"search_terms"`
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ProxyFile    string        `yaml:"proxy_file"`
	UseProxies   *bool         `yaml:"use_proxies"`
	Retry        RetryConfig   `yaml:"retry"`
}

// ProxiesEnabled reports the resolved use_proxies setting.
func (m MarketplaceConfig) ProxiesEnabled() bool {
	return m.UseProxies == nil || *m.UseProxies
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type ClassifierConfig struct {
	Path string `yaml:"path"`
}

type IngestConfig struct {
	MinSaleDate string        `yaml:"min_sale_date"`
	Interval    time.Duration `yaml:"interval"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

// MinDate parses MinSaleDate.
func (i IngestConfig) MinDate() (time.Time, error) {
	t, err := time.Parse(DateLayout, i.MinSaleDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse min sale date %q: %w", i.MinSaleDate, err)
	}
	return t, nil
}

// RedisConfig configures the optional identity cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// RabbitMQConfig configures event publishing. An empty URL disables it.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path (skipped when path is empty), expands
// ${VAR} references, applies defaults and then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MIN_SALE_DATE"); v != "" {
		c.Ingest.MinSaleDate = v
	}
	if v := os.Getenv("FETCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse FETCH_INTERVAL: %w", err)
		}
		c.Ingest.Interval = d
	} else if v := os.Getenv("FETCH_INTERVAL_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FETCH_INTERVAL_HOURS: %w", err)
		}
		c.Ingest.Interval = time.Duration(h) * time.Hour
	}
	if v := os.Getenv("PROXY_FILE"); v != "" {
		c.Marketplace.ProxyFile = v
	}
	if v := os.Getenv("USE_PROXIES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse USE_PROXIES: %w", err)
		}
		c.Marketplace.UseProxies = &b
	}
	if v := os.Getenv("CLASSIFIER_PATH"); v != "" {
		c.Classifier.Path = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Path == "" {
		c.Database.Path = "sales.db"
	}
	if c.Marketplace.Endpoint == "" {
		c.Marketplace.Endpoint = "https://back.130point.com/cards/"
	}
	if len(c.Marketplace.SearchTerms) == 0 {
		c.Marketplace.SearchTerms = []string{
			"2025 Bowman Draft Hobby",
			"2025 Bowman Draft Jumbo",
			"2025 Bowman Draft Delight",
		}
	}
	if c.Marketplace.Timeout == 0 {
		c.Marketplace.Timeout = 30 * time.Second
	}
	if c.Marketplace.MaxBodyBytes == 0 {
		c.Marketplace.MaxBodyBytes = 8 << 20
	}
	if c.Marketplace.ProxyFile == "" {
		c.Marketplace.ProxyFile = "proxies.txt"
	}
	if c.Marketplace.UseProxies == nil {
		enabled := true
		c.Marketplace.UseProxies = &enabled
	}
	if c.Marketplace.Retry.MaxAttempts == 0 {
		c.Marketplace.Retry.MaxAttempts = 5
	}
	if c.Classifier.Path == "" {
		c.Classifier.Path = "models/classifier.json"
	}
	if c.Ingest.MinSaleDate == "" {
		c.Ingest.MinSaleDate = "2025-11-01"
	}
	if c.Ingest.Interval == 0 {
		c.Ingest.Interval = time.Hour
	}
	if c.Ingest.StopTimeout == 0 {
		c.Ingest.StopTimeout = 15 * time.Second
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * 24 * time.Hour
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "boxtracker"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "sales"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "box_sales"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if len(c.Marketplace.SearchTerms) == 0 {
		errs = append(errs, errors.New("no search terms"))
	}
	for i, term := range c.Marketplace.SearchTerms {
		if term == "" {
			errs = append(errs, fmt.Errorf("search term %d is empty", i))
		}
	}
	if c.Marketplace.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", c.Marketplace.Retry.MaxAttempts))
	}
	if c.Ingest.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Ingest.Interval))
	}
	if _, err := c.Ingest.MinDate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
