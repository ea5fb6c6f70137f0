// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Remote backends.
const (
	BackendR2       = "r2"
	BackendWrangler = "wrangler"
	BackendGCS      = "gcs"
	BackendMemory   = "memory"
)

// Secret is a credential that never prints its value.
type Secret string

// String redacts the secret.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scraper ScraperConfig `mapstructure:"scraper"`
	Storage StorageConfig `mapstructure:"storage"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Image   ImageConfig   `mapstructure:"image"`
	Sources SourcesConfig `mapstructure:"sources"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ScraperConfig governs fetching and pacing.
type ScraperConfig struct {
	DelayMs       int     `mapstructure:"delay_ms"`
	MaxRetries    int     `mapstructure:"max_retries"`
	Concurrency   int     `mapstructure:"concurrency"`
	TimeoutMs     int     `mapstructure:"timeout_ms"`
	UserAgent     string  `mapstructure:"user_agent"`
	BackoffBaseMs int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int     `mapstructure:"backoff_max_ms"`
	HostRPS       float64 `mapstructure:"host_rps"`
	HostBurst     int     `mapstructure:"host_burst"`
	MaxImageBytes int     `mapstructure:"max_image_bytes"`
}

// StorageConfig sets the local output locations.
type StorageConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	ManifestPath string `mapstructure:"manifest_path"`
}

// RemoteConfig selects and configures the object store.
type RemoteConfig struct {
	Backend         string   `mapstructure:"backend"`
	AccountID       string   `mapstructure:"account_id"`
	AccessKeyID     string   `mapstructure:"access_key_id"`
	SecretAccessKey Secret   `mapstructure:"secret_access_key"`
	Bucket          string   `mapstructure:"bucket"`
	PublicURL       string   `mapstructure:"public_url"`
	Endpoint        string   `mapstructure:"endpoint"`
	CacheControl    string   `mapstructure:"cache_control"`
	WranglerCommand []string `mapstructure:"wrangler_command"`
}

// ImageConfig controls transcoding.
type ImageConfig struct {
	OriginalQuality int   `mapstructure:"original_quality"`
	VariantQuality  int   `mapstructure:"variant_quality"`
	Widths          []int `mapstructure:"widths"`
	WebPMethod      int   `mapstructure:"webp_method"`
}

// SourcesConfig holds the base URLs of the scraped sites.
type SourcesConfig struct {
	GeohintsURL string `mapstructure:"geohints_url"`
	GeohintsCDN string `mapstructure:"geohints_cdn"`
	GeomastrURL string `mapstructure:"geomastr_url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus textfile output.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics registry at command end.
	Textfile string `mapstructure:"textfile"`
}

// legacyEnv maps config keys to the unprefixed variable names operators
// already export.
var legacyEnv = map[string]string{
	"remote.account_id":        "R2_ACCOUNT_ID",
	"remote.access_key_id":     "R2_ACCESS_KEY_ID",
	"remote.secret_access_key": "R2_SECRET_ACCESS_KEY",
	"remote.bucket":            "R2_BUCKET_NAME",
	"remote.public_url":        "R2_PUBLIC_URL",
	"scraper.delay_ms":         "SCRAPER_DELAY_MS",
	"scraper.max_retries":      "SCRAPER_MAX_RETRIES",
	"scraper.concurrency":      "SCRAPER_CONCURRENCY",
	"scraper.timeout_ms":       "SCRAPER_TIMEOUT_MS",
	"scraper.user_agent":       "SCRAPER_USER_AGENT",
	"storage.output_dir":       "SCRAPER_OUTPUT_DIR",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GEOHINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Storage.ManifestPath == "" {
		cfg.Storage.ManifestPath = filepath.Join(cfg.Storage.OutputDir, "manifest.json")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.delay_ms", 500)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.concurrency", 3)
	v.SetDefault("scraper.timeout_ms", 30000)
	v.SetDefault("scraper.user_agent", "GeoHints-Scraper/2.0 (Educational project)")
	v.SetDefault("scraper.backoff_base_ms", 1000)
	v.SetDefault("scraper.backoff_max_ms", 30000)
	v.SetDefault("scraper.host_rps", 0)
	v.SetDefault("scraper.host_burst", 1)
	v.SetDefault("scraper.max_image_bytes", 25<<20)

	v.SetDefault("storage.output_dir", "./scraped-images")
	v.SetDefault("storage.manifest_path", "")

	v.SetDefault("remote.backend", BackendR2)
	v.SetDefault("remote.account_id", "")
	v.SetDefault("remote.access_key_id", "")
	v.SetDefault("remote.secret_access_key", "")
	v.SetDefault("remote.bucket", "geohints-images")
	v.SetDefault("remote.public_url", "")
	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.cache_control", "public, max-age=31536000, immutable")
	v.SetDefault("remote.wrangler_command", []string{"npx", "wrangler"})

	v.SetDefault("image.original_quality", 95)
	v.SetDefault("image.variant_quality", 82)
	v.SetDefault("image.widths", []int{400, 800, 1200})
	v.SetDefault("image.webp_method", 4)

	v.SetDefault("sources.geohints_url", "https://geohints.com")
	v.SetDefault("sources.geohints_cdn", "https://ocsc00skc0wokcs8kw8g8k84.geohints.com/storage")
	v.SetDefault("sources.geomastr_url", "https://geomastr.com")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.textfile", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Scraper.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("scraper.concurrency must be > 0"))
	}
	if c.Scraper.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("scraper.timeout_ms must be > 0"))
	}
	if c.Scraper.DelayMs < 0 {
		errs = append(errs, fmt.Errorf("scraper.delay_ms must be >= 0"))
	}
	if c.Scraper.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("scraper.max_retries must be >= 0"))
	}
	if c.Scraper.BackoffBaseMs <= 0 || c.Scraper.BackoffMaxMs < c.Scraper.BackoffBaseMs {
		errs = append(errs, fmt.Errorf("scraper.backoff_base_ms must be > 0 and <= scraper.backoff_max_ms"))
	}
	if c.Scraper.HostRPS < 0 {
		errs = append(errs, fmt.Errorf("scraper.host_rps must be >= 0"))
	}
	if c.Scraper.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("scraper.max_image_bytes must be > 0"))
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		errs = append(errs, fmt.Errorf("storage.output_dir is required"))
	}
	if !qualityOK(c.Image.OriginalQuality) || !qualityOK(c.Image.VariantQuality) {
		errs = append(errs, fmt.Errorf("image qualities must be within 1..100"))
	}
	if len(c.Image.Widths) == 0 {
		errs = append(errs, fmt.Errorf("image.widths must not be empty"))
	} else if !sort.IntsAreSorted(c.Image.Widths) || c.Image.Widths[0] <= 0 {
		errs = append(errs, fmt.Errorf("image.widths must be positive and ascending"))
	}
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}
	switch c.Remote.Backend {
	case BackendR2, BackendWrangler, BackendGCS, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("remote.backend %q is not one of r2, wrangler, gcs, memory", c.Remote.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireRemoteCredentials checks that the selected backend can
// authenticate. Dry runs skip it.
func (c Config) RequireRemoteCredentials() error {
	r := c.Remote
	var missing []string
	if r.Bucket == "" {
		missing = append(missing, "R2_BUCKET_NAME")
	}
	if r.Backend == BackendR2 {
		if r.AccountID == "" && r.Endpoint == "" {
			missing = append(missing, "R2_ACCOUNT_ID")
		}
		if r.AccessKeyID == "" {
			missing = append(missing, "R2_ACCESS_KEY_ID")
		}
		if r.SecretAccessKey == "" {
			missing = append(missing, "R2_SECRET_ACCESS_KEY")
		}
	}
	if r.Backend == BackendWrangler && len(r.WranglerCommand) == 0 {
		missing = append(missing, "remote.wrangler_command")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing remote credentials for %s backend: %s", r.Backend, strings.Join(missing, ", "))
	}
	return nil
}

// Delay returns the fixed per-request delay.
func (c ScraperConfig) Delay() time.Duration { return time.Duration(c.DelayMs) * time.Millisecond }

// Timeout returns the per-request timeout.
func (c ScraperConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// BackoffBase returns the first retry delay.
func (c ScraperConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c ScraperConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

func qualityOK(q int) bool { return q >= 1 && q <= 100 }
