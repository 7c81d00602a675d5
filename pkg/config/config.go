// Package config loads lmsfetch settings from defaults, an optional TOML file
// and the environment. Command-line flags are applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Renderer names accepted in Config.Renderer
const (
	RendererHTTP   = "http"
	RendererChrome = "chrome"
)

// Catalog drivers accepted in CatalogConfig.Driver
const (
	CatalogNone     = ""
	CatalogMongo    = "mongo"
	CatalogPostgres = "postgres"
	CatalogSQLite   = "sqlite"
	CatalogSupabase = "supabase"
)

// Duration is a time.Duration written as "30s" or "1m" in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Paths are the portal page locations relative to BaseURL.
type Paths struct {
	Login   string `toml:"login"`
	Profile string `toml:"profile"`
	Course  string `toml:"course"`
}

// TransferConfig tunes file downloads.
type TransferConfig struct {
	MaxAttempts    int      `toml:"max_attempts"`
	AttemptTimeout Duration `toml:"attempt_timeout"`
	BackoffStep    Duration `toml:"backoff_step"`
	// RateLimit is the maximum number of download attempts per second; 0 disables it.
	RateLimit float64 `toml:"rate_limit"`
	// VerifyPDF rejects downloaded .pdf files that do not parse.
	VerifyPDF bool `toml:"verify_pdf"`
}

// CatalogConfig selects the optional download catalog.
type CatalogConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	// Database and Table name the Mongo database/collection or the SQL table.
	Database    string `toml:"database"`
	Table       string `toml:"table"`
	SupabaseURL string `toml:"supabase_url"`
	SupabaseKey string `toml:"supabase_key"`
	// SupabasePassword opens a direct Postgres connection to the project at
	// SupabaseURL when DSN is empty.
	SupabasePassword string `toml:"supabase_password"`
}

// Config holds all settings for one run.
type Config struct {
	BaseURL     string `toml:"base_url"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	DownloadDir string `toml:"download_dir"`
	LedgerFile  string `toml:"ledger_file"`

	// Renderer is "http" (plain HTTP + HTML parsing) or "chrome".
	Renderer   string   `toml:"renderer"`
	Headless   bool     `toml:"headless"`
	NavTimeout Duration `toml:"nav_timeout"`
	// ChromePath overrides the Chrome binary; empty searches the usual locations.
	ChromePath string `toml:"chrome_path"`

	// Course preselects a 1-based course number; 0 asks interactively.
	Course int `toml:"course"`

	Paths    Paths          `toml:"paths"`
	Transfer TransferConfig `toml:"transfer"`
	Catalog  CatalogConfig  `toml:"catalog"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DownloadDir: "Lectures",
		LedgerFile:  "downloaded_files.txt",
		Renderer:    RendererHTTP,
		Headless:    true,
		NavTimeout:  Duration(60 * time.Second),
		Paths: Paths{
			Login:   "/portal/login/index.php",
			Profile: "/portal/user/profile.php",
			Course:  "/portal/course/view.php",
		},
		Transfer: TransferConfig{
			MaxAttempts:    3,
			AttemptTimeout: Duration(30 * time.Second),
			BackoffStep:    Duration(time.Second),
		},
		Catalog: CatalogConfig{
			Database: "lmsfetch",
			Table:    "downloads",
		},
	}
}

// Load returns Default overlaid by the TOML file at path and then by the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getenv("MY_LMS_URL", c.BaseURL)
	c.Username = getenv("LMS_USERNAME", c.Username)
	c.Password = getenv("LMS_PASSWORD", c.Password)
	c.DownloadDir = getenv("LMS_DOWNLOAD_DIR", c.DownloadDir)
	c.LedgerFile = getenv("LMS_TRACKING_FILE", c.LedgerFile)
	c.Renderer = getenv("LMS_RENDERER", c.Renderer)
	c.Headless = getenvBool("LMS_HEADLESS", c.Headless)
	c.ChromePath = getenv("LMS_CHROME_PATH", c.ChromePath)

	c.Transfer.MaxAttempts = getenvInt("LMS_MAX_ATTEMPTS", c.Transfer.MaxAttempts)
	c.Transfer.VerifyPDF = getenvBool("LMS_VERIFY_PDF", c.Transfer.VerifyPDF)

	c.Catalog.Driver = getenv("LMS_CATALOG_DRIVER", c.Catalog.Driver)
	c.Catalog.DSN = getenv("LMS_CATALOG_DSN", c.Catalog.DSN)
	c.Catalog.SupabaseURL = getenv("SUPABASE_URL", c.Catalog.SupabaseURL)
	c.Catalog.SupabaseKey = getenv("SUPABASE_KEY", c.Catalog.SupabaseKey)
	c.Catalog.SupabasePassword = getenv("SUPABASE_DB_PASSWORD", c.Catalog.SupabasePassword)
}

// Validate reports settings that make a run impossible. The password may be
// empty here; the CLI prompts for it.
func (c Config) Validate() error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required (MY_LMS_URL)"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base URL %q must be an absolute URL", c.BaseURL))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required (LMS_USERNAME)"))
	}
	if c.DownloadDir == "" {
		errs = append(errs, errors.New("download directory must not be empty"))
	}
	if c.LedgerFile == "" {
		errs = append(errs, errors.New("ledger file must not be empty"))
	}
	if c.Renderer != RendererHTTP && c.Renderer != RendererChrome {
		errs = append(errs, fmt.Errorf("unknown renderer %q (want %q or %q)", c.Renderer, RendererHTTP, RendererChrome))
	}
	if c.Course < 0 {
		errs = append(errs, fmt.Errorf("course number must be positive, got %d", c.Course))
	}
	if c.Transfer.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.Transfer.MaxAttempts))
	}
	if c.Transfer.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit must not be negative, got %v", c.Transfer.RateLimit))
	}

	switch c.Catalog.Driver {
	case CatalogNone:
	case CatalogMongo, CatalogPostgres, CatalogSQLite:
		if c.Catalog.DSN == "" {
			errs = append(errs, fmt.Errorf("catalog driver %q needs a DSN", c.Catalog.Driver))
		}
	case CatalogSupabase:
		if c.Catalog.DSN == "" && (c.Catalog.SupabaseURL == "" || (c.Catalog.SupabaseKey == "" && c.Catalog.SupabasePassword == "")) {
			errs = append(errs, errors.New("supabase catalog needs a DSN, or a URL with a key or password"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown catalog driver %q", c.Catalog.Driver))
	}

	return errors.Join(errs...)
}

// URL joins BaseURL and a portal path
func (c Config) URL(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
