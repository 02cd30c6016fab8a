package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	StateStorage StateStorage    `mapstructure:"state_storage" validate:"required"`
	Source       SourceConfig    `mapstructure:"source" validate:"required"`
	Sync         SyncConfig      `mapstructure:"sync" validate:"required"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Logging      LoggingConfig   `mapstructure:"logging"`
	Notify       NotifyConfig    `mapstructure:"notify"`
}

// StateStorage selects the backend holding the comparison table.
type StateStorage struct {
	Type           string        `mapstructure:"type" validate:"oneof=mysql postgres memory"`
	Host           string        `mapstructure:"host" validate:"required_if=Type mysql"`
	Port           int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database" validate:"required_if=Type mysql"`
	DSN            string        `mapstructure:"dsn" validate:"required_if=Type postgres"` // For Postgres
	MaxOpenConns   int           `mapstructure:"max_open_conns" validate:"gte=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MySQLDSN renders the go-sql-driver DSN for the configured server.
func (s StateStorage) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
		s.User, s.Password, s.Host, s.Port, s.Database)
}

type SourceConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	UserAgent         string        `mapstructure:"user_agent" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
}

type SyncConfig struct {
	Collections     []CollectionConfig `mapstructure:"collections" validate:"min=1,unique=Name,dive"`
	FetchTimeout    time.Duration      `mapstructure:"fetch_timeout" validate:"gt=0"`
	BatchInsertSize int                `mapstructure:"batch_insert_size" validate:"gte=1"`
}

// CollectionConfig describes one independently synced record set.
type CollectionConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Kind string `mapstructure:"kind" validate:"oneof=symbols cards"`
	// Query is the Scryfall search expression for card collections.
	Query string `mapstructure:"query" validate:"required_if=Kind cards"`
	// MaxDeleteRatio aborts a cycle that would delete more than this share
	// of the local rows. Zero disables the check.
	MaxDeleteRatio float64 `mapstructure:"max_delete_ratio" validate:"gte=0,lte=1"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval" validate:"required_if=Enabled true"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	Host         string `mapstructure:"host"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NotifyConfig enables publishing cycle outcomes to NATS when NATSURL is set.
type NotifyConfig struct {
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject" validate:"required_with=NATSURL"`
}

// LoadConfig reads path (when non-empty), applies MANASYNC_* environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MANASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its validation tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_storage.type", "mysql")
	v.SetDefault("state_storage.host", "localhost")
	v.SetDefault("state_storage.port", 3306)
	v.SetDefault("state_storage.user", "")
	v.SetDefault("state_storage.password", "")
	v.SetDefault("state_storage.database", "manasync")
	v.SetDefault("state_storage.dsn", "")
	v.SetDefault("state_storage.max_open_conns", 10)
	v.SetDefault("state_storage.connect_timeout", "30s")

	v.SetDefault("source.base_url", "https://api.scryfall.com")
	v.SetDefault("source.user_agent", "mana-sync-service/1.0")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.requests_per_second", 10)

	v.SetDefault("sync.collections", []map[string]any{{"name": "symbols", "kind": "symbols"}})
	v.SetDefault("sync.fetch_timeout", "2m")
	v.SetDefault("sync.batch_insert_size", 500)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 12h")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.subject", "manasync.cycles")
}
