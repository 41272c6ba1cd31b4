package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for ocrinvoice
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// OCRConfig holds the OCR.space client settings
type OCRConfig struct {
	APIKey              string `mapstructure:"api_key"`
	Endpoint            string `mapstructure:"endpoint"`
	Language            string `mapstructure:"language"`
	Engine              int    `mapstructure:"engine"`
	IsTable             bool   `mapstructure:"is_table"`
	Scale               bool   `mapstructure:"scale"`
	CreateSearchablePDF bool   `mapstructure:"create_searchable_pdf"`
	Timeout             int    `mapstructure:"timeout"`

	// RPM caps outbound OCR calls per minute (0 = unlimited)
	RPM   int `mapstructure:"rpm"`
	Burst int `mapstructure:"burst"`

	// Circuit breaker: trips after BreakerFailures consecutive failures and
	// stays open for BreakerTimeout seconds.
	BreakerFailures int `mapstructure:"breaker_failures"`
	BreakerTimeout  int `mapstructure:"breaker_timeout"`
}

// TemplatesConfig holds invoice template settings
type TemplatesConfig struct {
	Dir     string `mapstructure:"dir"`
	Builtin bool   `mapstructure:"builtin"`
	Watch   bool   `mapstructure:"watch"`
}

// UploadConfig holds upload limits
type UploadConfig struct {
	MaxBytes int `mapstructure:"max_bytes"`
	// MaxPDFPages rejects PDF uploads above this page count (0 = no limit)
	MaxPDFPages int `mapstructure:"max_pdf_pages"`
}

// StorageConfig holds scratch space settings
type StorageConfig struct {
	TempDir string `mapstructure:"temp_dir"`
}

// JanitorConfig holds the stale temp file sweeper settings
type JanitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	MaxAge   int    `mapstructure:"max_age"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SecurityConfig holds CORS settings
type SecurityConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = GetEnvDefault("OCRINVOICE_CONFIG", "ocrinvoice.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// OCRINVOICE_SERVER_PORT, OCRINVOICE_OCR_LANGUAGE, ...
	v.SetEnvPrefix("OCRINVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain names used by hosting platforms take precedence.
	for key, aliases := range envAliases {
		if err := v.BindEnv(append([]string{key}, aliases...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Storage.TempDir == "" {
		cfg.Storage.TempDir = os.TempDir()
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 200)
	v.SetDefault("server.write_timeout", 400)

	v.SetDefault("ocr.api_key", "")
	v.SetDefault("ocr.endpoint", "https://api.ocr.space/parse/image")
	v.SetDefault("ocr.language", "ita")
	v.SetDefault("ocr.engine", 2)
	v.SetDefault("ocr.is_table", true)
	v.SetDefault("ocr.scale", true)
	v.SetDefault("ocr.create_searchable_pdf", true)
	v.SetDefault("ocr.timeout", 180)
	v.SetDefault("ocr.rpm", 60)
	v.SetDefault("ocr.burst", 5)
	v.SetDefault("ocr.breaker_failures", 5)
	v.SetDefault("ocr.breaker_timeout", 30)

	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.builtin", true)
	v.SetDefault("templates.watch", true)

	v.SetDefault("upload.max_bytes", 20<<20)
	v.SetDefault("upload.max_pdf_pages", 0)

	v.SetDefault("storage.temp_dir", "")

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", "@every 10m")
	v.SetDefault("janitor.max_age", 1800)

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")

	v.SetDefault("security.allow_origins", []string{"*"})
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.OCR.Endpoint == "" {
		return fmt.Errorf("ocr.endpoint is required")
	}
	if cfg.OCR.Timeout <= 0 {
		return fmt.Errorf("ocr.timeout must be positive")
	}
	if cfg.OCR.RPM < 0 || cfg.OCR.Burst < 0 {
		return fmt.Errorf("ocr.rpm and ocr.burst must not be negative")
	}
	if cfg.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	if cfg.Upload.MaxPDFPages < 0 {
		return fmt.Errorf("upload.max_pdf_pages must not be negative")
	}
	if cfg.Janitor.Enabled && cfg.Janitor.Schedule == "" {
		return fmt.Errorf("janitor.schedule is required when the janitor is enabled")
	}

	// The API key is checked per request so the form stays reachable.
	return nil
}

// RequestTimeout returns the outbound OCR timeout as a duration
func (c OCRConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// BreakerOpenFor returns how long a tripped breaker stays open
func (c OCRConfig) BreakerOpenFor() time.Duration {
	return time.Duration(c.BreakerTimeout) * time.Second
}

// JanitorMaxAge returns the temp file max age as a duration
func (c *Config) JanitorMaxAge() time.Duration {
	return time.Duration(c.Janitor.MaxAge) * time.Second
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
