package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Sync    SyncConfig    `mapstructure:"sync" validate:"required"`
	Upload  UploadConfig  `mapstructure:"upload" validate:"required"`
	Redis   RedisConfig   `mapstructure:"redis" validate:"required"`
	Daemon  DaemonConfig  `mapstructure:"daemon" validate:"required"`
	Publish PublishConfig `mapstructure:"publish" validate:"required"`
	HTTP    HTTPConfig    `mapstructure:"http" validate:"required"`
}

// SyncConfig is the read-only snapshot the upload engine works from.
type SyncConfig struct {
	LocalBasePath     string         `mapstructure:"local_base_path" validate:"required"`
	LocalCompiledPath string         `mapstructure:"local_compiled_path"`
	DirectUploadFiles []string       `mapstructure:"direct_upload_files"`
	Files             []string       `mapstructure:"files"`
	Servers           []ServerConfig `mapstructure:"servers" validate:"required,min=1,dive"`
}

// CompiledRoot returns the absolute build output root, or "" in
// source-direct mode. Relative values are taken against the base path.
func (s *SyncConfig) CompiledRoot() string {
	if s.LocalCompiledPath == "" {
		return ""
	}
	if filepath.IsAbs(s.LocalCompiledPath) {
		return filepath.Clean(s.LocalCompiledPath)
	}
	return filepath.Join(s.LocalBasePath, s.LocalCompiledPath)
}

const (
	ServerTypeSFTP = "sftp"
	ServerTypeS3   = "s3"
)

type ServerConfig struct {
	Name              string   `mapstructure:"name"`
	Type              string   `mapstructure:"type" validate:"omitempty,oneof=sftp s3"`
	Host              string   `mapstructure:"host" validate:"required_unless=Type s3"`
	Port              int      `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Username          string   `mapstructure:"username" validate:"required_unless=Type s3"`
	Password          string   `mapstructure:"password"`
	PrivateKey        string   `mapstructure:"private_key"`
	PrivateKeyPath    string   `mapstructure:"private_key_path"`
	ConnectionTimeout int      `mapstructure:"connection_timeout" validate:"omitempty,min=1,max=300"`
	RemoteDirPaths    []string `mapstructure:"remote_dir_paths" validate:"required,min=1,dive,required"`

	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Type s3"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Type s3"`
	AccessKey string `mapstructure:"access_key" validate:"required_if=Type s3"`
	SecretKey string `mapstructure:"secret_key" validate:"required_if=Type s3"`
}

// Kind returns the transport type, defaulting to sftp.
func (s *ServerConfig) Kind() string {
	if s.Type == "" {
		return ServerTypeSFTP
	}
	return s.Type
}

// Key identifies the endpoint for connection reuse.
func (s *ServerConfig) Key() string {
	if s.Kind() == ServerTypeS3 {
		return fmt.Sprintf("s3:%s/%s", s.Endpoint, s.Bucket)
	}
	port := s.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", s.Host, port)
}

// Label is the human readable server name used in logs and results.
func (s *ServerConfig) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Kind() == ServerTypeS3 {
		return s.Bucket
	}
	return s.Host
}

func (s *ServerConfig) Timeout() time.Duration {
	if s.ConnectionTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.ConnectionTimeout) * time.Second
}

type UploadConfig struct {
	MaxAttempts  int    `mapstructure:"max_attempts" validate:"min=1,max=10"`
	RetryDelayMS int    `mapstructure:"retry_delay_ms" validate:"min=0,max=60000"`
	Concurrency  int    `mapstructure:"concurrency" validate:"min=1,max=32"`
	ErrorLogPath string `mapstructure:"error_log_path"`
}

func (u UploadConfig) RetryDelay() time.Duration {
	return time.Duration(u.RetryDelayMS) * time.Millisecond
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0,max=15"`
}

type DaemonConfig struct {
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	Concurrency            int    `mapstructure:"concurrency" validate:"min=1,max=64"`
	PostUploadCommand      string `mapstructure:"post_upload_command"`
	CommandDebounceSeconds int    `mapstructure:"command_debounce_seconds" validate:"min=1"`
	CommandTimeoutMinutes  int    `mapstructure:"command_timeout_minutes" validate:"min=1"`
	ResultsTTLHours        int    `mapstructure:"results_ttl_hours" validate:"min=1"`
}

type PublishConfig struct {
	MaxRetry       int `mapstructure:"max_retry" validate:"min=0,max=10"`
	TimeoutMinutes int `mapstructure:"timeout_minutes" validate:"required,min=1,max=1440"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

func LoadFromFile(filename string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(filename)
	v.SetConfigType("toml")

	v.SetEnvPrefix("SSHPUBLISH")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyServerDefaults(&config.Sync)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.local_compiled_path", "")
	v.SetDefault("sync.direct_upload_files", []string{})

	v.SetDefault("upload.max_attempts", 2)
	v.SetDefault("upload.retry_delay_ms", 500)
	v.SetDefault("upload.concurrency", 3)
	v.SetDefault("upload.error_log_path", "upload_errors.log")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("daemon.log_level", "info")
	v.SetDefault("daemon.concurrency", 2)
	v.SetDefault("daemon.post_upload_command", "")
	v.SetDefault("daemon.command_debounce_seconds", 30)
	v.SetDefault("daemon.command_timeout_minutes", 1)
	v.SetDefault("daemon.results_ttl_hours", 24)

	v.SetDefault("publish.max_retry", 0)
	v.SetDefault("publish.timeout_minutes", 60)

	v.SetDefault("http.addr", ":8080")
}

// viper cannot default fields inside array-of-tables entries.
func applyServerDefaults(sync *SyncConfig) {
	for i := range sync.Servers {
		s := &sync.Servers[i]
		if s.Type == "" {
			s.Type = ServerTypeSFTP
		}
		if s.Kind() == ServerTypeSFTP && s.Port == 0 {
			s.Port = 22
		}
		if s.Kind() == ServerTypeS3 && s.Region == "" {
			s.Region = "us-east-1"
		}
		if s.ConnectionTimeout == 0 {
			s.ConnectionTimeout = 30
		}
	}
}

func validateConfig(config *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(config); err != nil {
		return err
	}

	for i := range config.Sync.Servers {
		s := &config.Sync.Servers[i]
		if s.Kind() == ServerTypeSFTP && s.Password == "" && s.PrivateKey == "" && s.PrivateKeyPath == "" {
			return fmt.Errorf("server %s: either password or private key must be provided", s.Label())
		}
	}

	return ValidateSync(&config.Sync)
}
