package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Runtime holds the process configuration. Provider settings live in the
// SettingsStore instead, since they can change while the server runs.
type Runtime struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Log      LogConfig      `mapstructure:"log"`
	Secret   SecretConfig   `mapstructure:"secret"`
}

type HTTPConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StorageConfig struct {
	Backend  string   `mapstructure:"backend"`
	LocalDir string   `mapstructure:"local_dir"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config holds S3 connection details. Endpoint is optional and used for
// S3-compatible services like MinIO.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
}

type UploadConfig struct {
	MaxFileSize       int64    `mapstructure:"max_file_size"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

type PipelineConfig struct {
	Workers     int64         `mapstructure:"workers"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type QueueConfig struct {
	Capacity          int           `mapstructure:"capacity"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RecoveryInterval  time.Duration `mapstructure:"recovery_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SecretConfig struct {
	Key     string `mapstructure:"key"`
	KeyPath string `mapstructure:"key_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("db.driver", "duckdb")
	v.SetDefault("db.dsn", filepath.Join(homeDir(), ".inspectd", "inspectd.db"))
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", filepath.Join(homeDir(), ".inspectd", "uploads"))
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("upload.max_file_size", 10<<20)
	v.SetDefault("upload.allowed_extensions", []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"})
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.call_timeout", 2*time.Minute)
	v.SetDefault("pipeline.task_timeout", 30*time.Minute)
	v.SetDefault("queue.capacity", 100)
	v.SetDefault("queue.visibility_timeout", 35*time.Minute)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.recovery_interval", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("secret.key", "")
	v.SetDefault("secret.key_path", DefaultKeyPath())
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.endpoint", "")
}

// Load reads .env (if present), the optional config file and INSPECTD_*
// environment variables, in increasing precedence, into a Runtime.
func Load(v *viper.Viper, cfgFile string) (*Runtime, error) {
	// .env is optional
	_ = godotenv.Load()

	setDefaults(v)
	v.SetEnvPrefix("INSPECTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(homeDir(), ".config", "inspectd"))
		v.AddConfigPath(".")
		v.SetConfigName("inspectd")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var rt Runtime
	if err := v.Unmarshal(&rt); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := rt.validate(); err != nil {
		return nil, err
	}
	return &rt, nil
}

func (rt *Runtime) validate() error {
	switch rt.DB.Driver {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("db.driver must be duckdb or postgres, got %q", rt.DB.Driver)
	}
	switch rt.Storage.Backend {
	case "local":
		if rt.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required for the local backend")
		}
	case "s3":
		if rt.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local or s3, got %q", rt.Storage.Backend)
	}
	if rt.Pipeline.Workers < 1 {
		return errors.New("pipeline.workers must be at least 1")
	}
	if rt.Upload.MaxFileSize <= 0 {
		return errors.New("upload.max_file_size must be positive")
	}
	for i, ext := range rt.Upload.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		rt.Upload.AllowedExtensions[i] = ext
	}
	return nil
}

// NewLogger builds the process logger. format is json or text.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if w == nil {
		w = os.Stderr
	}
	switch strings.ToLower(format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "console":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}
