package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"cmt-fetcher/query"

	"gopkg.in/yaml.v3"
)

// Fetcher backends
const (
	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

// Output formats
const (
	FormatText = "text"
	FormatCSV  = "csv"
)

// Config is the tool configuration read from YAML
type Config struct {
	Catalog struct {
		BaseURL    string        `yaml:"base_url"`
		UserAgent  string        `yaml:"user_agent"`
		Timeout    time.Duration `yaml:"timeout"` // 0 means no timeout
		Fetcher    string        `yaml:"fetcher"`
		MaxPages   int           `yaml:"max_pages"`
		WindowDays int           `yaml:"window_days"`
	} `yaml:"catalog"`

	// Bounds applied to every query unless overridden by flags
	Query struct {
		Mw    query.Range `yaml:"mw"`
		Ms    query.Range `yaml:"ms"`
		Mb    query.Range `yaml:"mb"`
		Lat   query.Range `yaml:"lat"`
		Lon   query.Range `yaml:"lon"`
		Depth query.Range `yaml:"depth"`
	} `yaml:"query"`

	Browser struct {
		Bin         string `yaml:"bin"`
		UserDataDir string `yaml:"user_data_dir"`
	} `yaml:"browser"`

	Output struct {
		Path   string `yaml:"path"`
		Format string `yaml:"format"`
	} `yaml:"output"`

	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Sheets struct {
		Spreadsheet string `yaml:"spreadsheet"`
		Credentials string `yaml:"credentials"`
	} `yaml:"sheets"`

	Storage struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		UseSSL    bool   `yaml:"use_ssl"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"storage"`

	Metrics struct {
		Pushgateway string `yaml:"pushgateway"`
		Job         string `yaml:"job"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does
// not exist. The second return value reports whether the file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	if path == "" {
		return GetDefaultConfig(), false, nil
	}
	cfg, err := LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) {
		return GetDefaultConfig(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	cfg := &Config{}

	cfg.Catalog.BaseURL = query.BaseURL
	cfg.Catalog.Fetcher = FetcherHTTP

	defaults := query.DefaultParams(time.Time{}, time.Time{})
	cfg.Query.Mw = defaults.Mw
	cfg.Query.Ms = defaults.Ms
	cfg.Query.Mb = defaults.Mb
	cfg.Query.Lat = defaults.Lat
	cfg.Query.Lon = defaults.Lon
	cfg.Query.Depth = defaults.Depth

	cfg.Output.Format = FormatText
	cfg.Database.Driver = "postgres"
	cfg.Storage.Bucket = "cmt-exports"
	cfg.Metrics.Job = "cmt_fetch"
	cfg.Log.Level = "info"

	return cfg
}

// ApplyEnv overrides values from environment variables read through getenv
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Database.DSN, "DATABASE_URL")
	set(&c.Database.Driver, "DB_DRIVER")
	set(&c.Log.Level, "LOG_LEVEL")
	set(&c.Metrics.Pushgateway, "PUSHGATEWAY_URL")
	set(&c.Storage.AccessKey, "MINIO_ACCESS_KEY")
	set(&c.Storage.SecretKey, "MINIO_SECRET_KEY")
	set(&c.Sheets.Credentials, "GOOGLE_SHEETS_CREDENTIALS")
}

// Params returns query params for the given dates with the configured bounds
func (c *Config) Params(start, end time.Time) query.Params {
	return query.Params{
		Start: start,
		End:   end,
		Mw:    c.Query.Mw,
		Ms:    c.Query.Ms,
		Mb:    c.Query.Mb,
		Lat:   c.Query.Lat,
		Lon:   c.Query.Lon,
		Depth: c.Query.Depth,
	}
}

// Validate checks option values. Query bounds are not checked; the catalog
// receives them as given.
func (c *Config) Validate() error {
	var errs []error

	switch c.Catalog.Fetcher {
	case FetcherHTTP, FetcherBrowser:
	default:
		errs = append(errs, fmt.Errorf("catalog.fetcher: unknown backend %q", c.Catalog.Fetcher))
	}
	if c.Catalog.Timeout < 0 {
		errs = append(errs, fmt.Errorf("catalog.timeout: must not be negative"))
	}
	if c.Catalog.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("catalog.max_pages: must not be negative"))
	}
	if c.Catalog.WindowDays < 0 {
		errs = append(errs, fmt.Errorf("catalog.window_days: must not be negative"))
	}

	switch c.Output.Format {
	case FormatText, FormatCSV:
	default:
		errs = append(errs, fmt.Errorf("output.format: unknown format %q", c.Output.Format))
	}

	if c.Database.DSN != "" {
		switch c.Database.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
		}
	}

	if c.Storage.Endpoint != "" && c.Storage.Bucket == "" {
		errs = append(errs, fmt.Errorf("storage.bucket: required when storage.endpoint is set"))
	}

	return errors.Join(errs...)
}
