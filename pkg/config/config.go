// Package config handles configuration loading for the provisioning gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/provision-gateway/pkg/api"
	"github.com/yourorg/provision-gateway/pkg/audit"
	"github.com/yourorg/provision-gateway/pkg/auth"
	"github.com/yourorg/provision-gateway/pkg/db"
	"github.com/yourorg/provision-gateway/pkg/template"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "PROVISION"

// Config represents the complete gateway configuration
type Config struct {
	Server    api.ServerConfig     `mapstructure:"server"`
	Database  db.Config            `mapstructure:"database"`
	MongoDB   template.MongoConfig `mapstructure:"mongodb"`
	Templates TemplatesConfig      `mapstructure:"templates"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Timeouts  TimeoutsConfig       `mapstructure:"timeouts"`
	Quickwit  audit.QuickwitConfig `mapstructure:"quickwit"`
	Metrics   MetricsConfig        `mapstructure:"metrics"`
	Logging   LoggingConfig        `mapstructure:"logging"`
}

// Template store backends
const (
	TemplateBackendMongo    = "mongodb"
	TemplateBackendDatabase = "database"
)

// TemplatesConfig contains template lookup configuration
type TemplatesConfig struct {
	template.CacheConfig   `mapstructure:",squash"`
	Backend                string `mapstructure:"backend"`
	AllowExtensionFallback bool   `mapstructure:"allow_extension_fallback"`
}

// AuthConfig contains device and operator authentication settings
type AuthConfig struct {
	auth.Config `mapstructure:",squash"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// TimeoutsConfig bounds storage round-trips
type TimeoutsConfig struct {
	DeviceLookup   time.Duration `mapstructure:"device_lookup"`
	TemplateLookup time.Duration `mapstructure:"template_lookup"`
	SideEffect     time.Duration `mapstructure:"side_effect"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Loader handles configuration loading from multiple sources
type Loader struct {
	v          *viper.Viper
	configPath string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigPath sets the configuration file path
func (l *Loader) SetConfigPath(path string) {
	l.configPath = path
}

// Load loads the configuration from defaults, the config file and the
// environment, in increasing precedence
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/provision-gateway/")
	}

	// Read config file (ignore if not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// GetConfigPath returns the path to the configuration file being used
func (l *Loader) GetConfigPath() string {
	return l.v.ConfigFileUsed()
}

// setDefaults sets default configuration values. Every key gets one so
// that environment overrides are seen by Unmarshal.
func (l *Loader) setDefaults() {
	server := api.DefaultServerConfig()
	l.v.SetDefault("server.host", server.Host)
	l.v.SetDefault("server.port", server.Port)
	l.v.SetDefault("server.debug", server.Debug)
	l.v.SetDefault("server.read_timeout", server.ReadTimeout)
	l.v.SetDefault("server.write_timeout", server.WriteTimeout)
	l.v.SetDefault("server.shutdown_timeout", server.ShutdownTimeout)
	l.v.SetDefault("server.trusted_proxies", []string{})

	l.v.SetDefault("database.driver", db.DriverMySQL)
	l.v.SetDefault("database.host", "localhost")
	l.v.SetDefault("database.port", 3306)
	l.v.SetDefault("database.user", "root")
	l.v.SetDefault("database.password", "")
	l.v.SetDefault("database.name", "provisioning")
	l.v.SetDefault("database.sslmode", "disable")
	l.v.SetDefault("database.path", "provision.db")
	l.v.SetDefault("database.max_open_conns", 25)
	l.v.SetDefault("database.max_idle_conns", 5)
	l.v.SetDefault("database.conn_max_lifetime", "5m")
	l.v.SetDefault("database.log_level", "warn")

	l.v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	l.v.SetDefault("mongodb.database", "provisioning")
	l.v.SetDefault("mongodb.collection", "device_templates")
	l.v.SetDefault("mongodb.connect_timeout", "10s")

	l.v.SetDefault("templates.backend", TemplateBackendMongo)
	l.v.SetDefault("templates.cache_ttl", "30s")
	l.v.SetDefault("templates.cache_max_items", 1000)
	l.v.SetDefault("templates.allow_extension_fallback", true)

	l.v.SetDefault("auth.api_key", "")
	l.v.SetDefault("auth.jwt_secret", "")
	l.v.SetDefault("auth.issuer", "provision-gateway")
	l.v.SetDefault("auth.required_scope", auth.ScopeProvision)
	l.v.SetDefault("auth.token_expiry", "24h")

	l.v.SetDefault("timeouts.device_lookup", "3s")
	l.v.SetDefault("timeouts.template_lookup", "3s")
	l.v.SetDefault("timeouts.side_effect", "5s")

	quickwit := audit.DefaultQuickwitConfig()
	l.v.SetDefault("quickwit.enabled", false)
	l.v.SetDefault("quickwit.url", quickwit.URL)
	l.v.SetDefault("quickwit.index_id", quickwit.IndexID)
	l.v.SetDefault("quickwit.timeout", quickwit.Timeout)
	l.v.SetDefault("quickwit.batch_size", quickwit.BatchSize)
	l.v.SetDefault("quickwit.flush_interval", quickwit.FlushInterval)

	l.v.SetDefault("metrics.enabled", true)

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.development", false)
}
