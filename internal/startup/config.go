package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/RafaUC/Allusion-sub000/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g.
// CATALOG_HTTP_PORT for http.port.
const EnvPrefix = "CATALOG"

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"  yaml:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"      yaml:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
	Aggregate AggregateConfig `mapstructure:"aggregate" yaml:"aggregate"`
	Save      SaveConfig      `mapstructure:"save"      yaml:"save"`
	Search    SearchConfig    `mapstructure:"search"    yaml:"search"`
	Import    ImportConfig    `mapstructure:"import"    yaml:"import"`
	Memory    MemoryConfig    `mapstructure:"memory"    yaml:"memory"`
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`

	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// Resolved values, filled in by LoadConfig.
	Timings  Timings        `mapstructure:"-" yaml:"-"`
	Location *time.Location `mapstructure:"-" yaml:"-"`
}

// DatabaseConfig locates the catalog database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port            string `mapstructure:"port"              yaml:"port"`
	LogHealthChecks bool   `mapstructure:"log_health_checks" yaml:"log_health_checks"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"  yaml:"enabled"`
	Port     string `mapstructure:"port"     yaml:"port"`
	Interval string `mapstructure:"interval" yaml:"interval"`
}

// AggregateConfig tunes tag count maintenance.
type AggregateConfig struct {
	Debounce  string `mapstructure:"debounce"   yaml:"debounce"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
}

// SaveConfig tunes debounced file saves.
type SaveConfig struct {
	Debounce string `mapstructure:"debounce" yaml:"debounce"`
}

// SearchConfig configures searches.
type SearchConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
	// Timezone is an IANA name, or "Local".
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// ImportConfig configures retries of bulk writes on a busy database.
type ImportConfig struct {
	MaxRetries     int    `mapstructure:"max_retries"     yaml:"max_retries"`
	InitialBackoff string `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     string `mapstructure:"max_backoff"     yaml:"max_backoff"`
}

// MemoryConfig sets GOMEMLIMIT. Limit is the container limit in bytes;
// zero leaves the runtime default.
type MemoryConfig struct {
	Limit int64   `mapstructure:"limit" yaml:"limit"`
	Ratio float64 `mapstructure:"ratio" yaml:"ratio"`
}

// LogConfig configures the log backend.
type LogConfig struct {
	Level    string            `mapstructure:"level"    yaml:"level"`
	JSON     bool              `mapstructure:"json"     yaml:"json"`
	File     string            `mapstructure:"file"     yaml:"file"`
	Rotation LogRotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// LogRotationConfig configures log file rotation.
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"    yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"     yaml:"max_age"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

// Timings are the parsed duration settings.
type Timings struct {
	MetricsInterval   time.Duration
	AggregateDebounce time.Duration
	SaveDebounce      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	ShutdownTimeout   time.Duration
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database:  DatabaseConfig{Path: "./data/catalog.db"},
		HTTP:      HTTPConfig{Port: "8080", LogHealthChecks: false},
		Metrics:   MetricsConfig{Enabled: true, Port: "9090", Interval: "1m"},
		Aggregate: AggregateConfig{Debounce: "300ms", BatchSize: 100},
		Save:      SaveConfig{Debounce: "200ms"},
		Search:    SearchConfig{PageSize: 200, Timezone: "Local"},
		Import:    ImportConfig{MaxRetries: 5, InitialBackoff: "50ms", MaxBackoff: "2s"},
		Memory:    MemoryConfig{Ratio: 0.85},
		Log: LogConfig{
			Level: "info",
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
			},
		},
		ShutdownTimeout: "10s",
	}
}

// SetDefaults registers Defaults with v so every key can be overridden
// from a file or the environment.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.log_health_checks", d.HTTP.LogHealthChecks)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.interval", d.Metrics.Interval)
	v.SetDefault("aggregate.debounce", d.Aggregate.Debounce)
	v.SetDefault("aggregate.batch_size", d.Aggregate.BatchSize)
	v.SetDefault("save.debounce", d.Save.Debounce)
	v.SetDefault("search.page_size", d.Search.PageSize)
	v.SetDefault("search.timezone", d.Search.Timezone)
	v.SetDefault("import.max_retries", d.Import.MaxRetries)
	v.SetDefault("import.initial_backoff", d.Import.InitialBackoff)
	v.SetDefault("import.max_backoff", d.Import.MaxBackoff)
	v.SetDefault("memory.limit", d.Memory.Limit)
	v.SetDefault("memory.ratio", d.Memory.Ratio)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.rotation.max_size", d.Log.Rotation.MaxSize)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age", d.Log.Rotation.MaxAge)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
}

// InitConfig loads .env files, points v at the config file (path, or
// config.yaml in the usual places) and enables CATALOG_* environment
// overrides. A missing config file is not an error.
func InitConfig(v *viper.Viper, path string) error {
	envFiles := []string{".env", ".env.local"}
	for _, envFile := range envFiles {
		// Missing .env files are fine.
		_ = godotenv.Load(envFile)
	}

	if path != "" {
		v.SetConfigFile(path)
		configDir := filepath.Dir(path)
		for _, envFile := range envFiles {
			_ = godotenv.Load(filepath.Join(configDir, envFile))
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.catalog")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// Decode reads the configuration out of v and resolves durations and the
// time zone. Invalid values fall back to defaults with a warning.
func Decode(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	d := Defaults()
	cfg.Timings = Timings{
		MetricsInterval:   parseDuration("metrics.interval", cfg.Metrics.Interval, d.Metrics.Interval),
		AggregateDebounce: parseDuration("aggregate.debounce", cfg.Aggregate.Debounce, d.Aggregate.Debounce),
		SaveDebounce:      parseDuration("save.debounce", cfg.Save.Debounce, d.Save.Debounce),
		InitialBackoff:    parseDuration("import.initial_backoff", cfg.Import.InitialBackoff, d.Import.InitialBackoff),
		MaxBackoff:        parseDuration("import.max_backoff", cfg.Import.MaxBackoff, d.Import.MaxBackoff),
		ShutdownTimeout:   parseDuration("shutdown_timeout", cfg.ShutdownTimeout, d.ShutdownTimeout),
	}

	loc, err := time.LoadLocation(cfg.Search.Timezone)
	if err != nil {
		logging.Warn("  Invalid search.timezone %q, using Local: %v", cfg.Search.Timezone, err)
		loc = time.Local
	}
	cfg.Location = loc

	if cfg.Search.PageSize <= 0 {
		logging.Warn("  Invalid search.page_size %d, using default: %d", cfg.Search.PageSize, d.Search.PageSize)
		cfg.Search.PageSize = d.Search.PageSize
	}
	return cfg, nil
}

// LoadConfig decodes the configuration, switches the log backend to it,
// prints the banner and prepares the database directory.
func LoadConfig(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.LoggingConfig())

	printBanner()
	logSystemInfo()

	logConfiguration(cfg, v.ConfigFileUsed())

	section("DIRECTORY SETUP")

	dbPath, err := filepath.Abs(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	cfg.Database.Path = dbPath
	field("Database file", dbPath)

	dbDir := filepath.Dir(dbPath)
	if err := ensureDirectory(dbDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(dbDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable: %w", err)
	}
	ok("Database directory is writable")

	return cfg, nil
}

// LoggingConfig converts the log section for logging.Configure.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level: c.Log.Level,
		JSON:  c.Log.JSON,
		File:  c.Log.File,
		Rotation: logging.RotationConfig{
			MaxSize:    c.Log.Rotation.MaxSize,
			MaxBackups: c.Log.Rotation.MaxBackups,
			MaxAge:     c.Log.Rotation.MaxAge,
			Compress:   c.Log.Rotation.Compress,
		},
	}
}

func parseDuration(key, value, fallback string) time.Duration {
	d, err := time.ParseDuration(value)
	if err == nil && d > 0 {
		return d
	}
	logging.Warn("  Invalid %s %q, using default: %s", key, value, fallback)
	d, _ = time.ParseDuration(fallback)
	return d
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
