package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Auth      AuthConfig      `mapstructure:"auth"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Installer InstallerConfig `mapstructure:"installer"`
	Features  FeaturesConfig  `mapstructure:"features"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SSHConfig controls how sessions to the database hosts are opened.
type SSHConfig struct {
	Port           int           `mapstructure:"port"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// InstallerConfig bounds the readiness loops and the key upload area.
type InstallerConfig struct {
	UploadDir          string        `mapstructure:"upload_dir"`
	MaxKeySize         int64         `mapstructure:"max_key_size"`
	ReadyPollInterval  time.Duration `mapstructure:"ready_poll_interval"`
	ReadyTimeout       time.Duration `mapstructure:"ready_timeout"`
	PrimaryWaitTimeout time.Duration `mapstructure:"primary_wait_timeout"`
}

type FeaturesConfig struct {
	EnableRequestLogging bool          `mapstructure:"enable_request_logging"`
	RequestIDHeader      string        `mapstructure:"request_id_header"`
	TaskStreamInterval   time.Duration `mapstructure:"task_stream_interval"`
	TimelineRetention    time.Duration `mapstructure:"timeline_retention"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REPLFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero value a minimal config file may leave out.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "console"
	}
	if len(c.Logger.OutputPaths) == 0 {
		c.Logger.OutputPaths = []string{"stdout"}
	}
	if len(c.Logger.ErrorOutputPaths) == 0 {
		c.Logger.ErrorOutputPaths = []string{"stderr"}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.DialTimeout == 0 {
		c.SSH.DialTimeout = 30 * time.Second
	}
	if c.Installer.UploadDir == "" {
		c.Installer.UploadDir = "uploads"
	}
	if c.Installer.MaxKeySize == 0 {
		c.Installer.MaxKeySize = 16 << 20
	}
	if c.Installer.ReadyPollInterval == 0 {
		c.Installer.ReadyPollInterval = time.Second
	}
	if c.Installer.ReadyTimeout == 0 {
		c.Installer.ReadyTimeout = 2 * time.Minute
	}
	if c.Installer.PrimaryWaitTimeout == 0 {
		c.Installer.PrimaryWaitTimeout = 2 * time.Minute
	}
	if c.Features.RequestIDHeader == "" {
		c.Features.RequestIDHeader = "X-Request-ID"
	}
	if c.Features.TaskStreamInterval == 0 {
		c.Features.TaskStreamInterval = 500 * time.Millisecond
	}
	if c.Features.TimelineRetention == 0 {
		c.Features.TimelineRetention = 30 * 24 * time.Hour
	}
}
