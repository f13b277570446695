// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Spy       SpyConfig       `mapstructure:"spy"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Security  SecurityConfig  `mapstructure:"security"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig controls port handles and the defaults applied to open requests
type SerialConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	PacingDelay    time.Duration `mapstructure:"pacing_delay"`
	LineTerminator string        `mapstructure:"line_terminator"`
	HighWaterMark  int           `mapstructure:"high_water_mark"`
	BaudRate       int           `mapstructure:"baud_rate"`
	DataBits       int           `mapstructure:"data_bits"`
	StopBits       int           `mapstructure:"stop_bits"`
	Parity         string        `mapstructure:"parity"`
	Delimiter      string        `mapstructure:"delimiter"`
	Encoding       string        `mapstructure:"encoding"`
}

// SpyConfig controls spy load reporting
type SpyConfig struct {
	ReportInterval time.Duration `mapstructure:"report_interval"`
}

// SettingsConfig selects where host preferences are persisted
type SettingsConfig struct {
	Backend string `mapstructure:"backend"`
	File    string `mapstructure:"file"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	DBName         string        `mapstructure:"dbname"`
	SSLMode        string        `mapstructure:"sslmode"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	MigrateOnStart bool          `mapstructure:"migrate_on_start"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DiscoveryConfig controls port enumeration
type DiscoveryConfig struct {
	USBEnrich bool `mapstructure:"usb_enrich"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

const (
	SettingsBackendFile     = "file"
	SettingsBackendPostgres = "postgres"
)

// Load loads configuration from config.yaml and SERIAL_MUX_* environment variables.
// A missing config file is not an error.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from an explicit file. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/serial-mux")
	}

	// Environment variable support
	v.SetEnvPrefix("SERIAL_MUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial defaults
	v.SetDefault("serial.chunk_size", 1)
	v.SetDefault("serial.pacing_delay", "50ms")
	v.SetDefault("serial.line_terminator", "\n\r")
	v.SetDefault("serial.high_water_mark", 64*1024)
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.delimiter", "\n")
	v.SetDefault("serial.encoding", "utf8")

	// Spy defaults
	v.SetDefault("spy.report_interval", "1s")

	// Settings defaults
	v.SetDefault("settings.backend", SettingsBackendFile)
	v.SetDefault("settings.file", "./data/settings.yaml")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "serial_mux")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")
	v.SetDefault("database.migrate_on_start", true)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"*"})

	// Discovery defaults
	v.SetDefault("discovery.usb_enrich", false)

	// App defaults
	v.SetDefault("app.name", "serial-mux")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if config.Serial.ChunkSize <= 0 {
		return fmt.Errorf("serial.chunk_size must be positive")
	}
	if config.Serial.PacingDelay < 0 {
		return fmt.Errorf("serial.pacing_delay must not be negative")
	}
	if config.Serial.HighWaterMark <= 0 {
		return fmt.Errorf("serial.high_water_mark must be positive")
	}
	if config.Spy.ReportInterval <= 0 {
		return fmt.Errorf("spy.report_interval must be positive")
	}

	switch config.Settings.Backend {
	case SettingsBackendFile:
		if config.Settings.File == "" {
			return fmt.Errorf("settings.file is required for the file backend")
		}
	case SettingsBackendPostgres:
		if config.Database.Host == "" {
			return fmt.Errorf("database.host is required for the postgres backend")
		}
	default:
		return fmt.Errorf("settings.backend must be one of: %v", []string{SettingsBackendFile, SettingsBackendPostgres})
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// DSN returns the postgres connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
