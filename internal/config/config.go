// Package config loads the daemon configuration from a YAML file with
// ONCUE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/oncue-tv/oncue/internal/faults"
)

type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type Storage struct {
	DBPath      string `mapstructure:"db_path"`
	SecretsPath string `mapstructure:"secrets_path"`
}

type Refresh struct {
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
}

type Logger struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Server  Server  `mapstructure:"server"`
	Storage Storage `mapstructure:"storage"`
	Refresh Refresh `mapstructure:"refresh"`
	Logger  Logger  `mapstructure:"logger"`
}

// Load reads the config file at path and applies env overrides. A missing
// file is not an error; defaults and environment carry the day.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		filename := filepath.Base(path)
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
		v.SetConfigType("yaml")
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8480)
	v.SetDefault("storage.db_path", "oncue.db")
	v.SetDefault("storage.secrets_path", "")
	v.SetDefault("refresh.schedule", "@every 6h")
	v.SetDefault("refresh.timeout", 10*time.Minute)
	v.SetDefault("refresh.retries", 3)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.pretty", false)

	v.BindEnv("server.host", "ONCUE_HOST")
	v.BindEnv("server.port", "ONCUE_PORT")
	v.BindEnv("storage.db_path", "ONCUE_DB_PATH")
	v.BindEnv("storage.secrets_path", "ONCUE_SECRETS_PATH")
	v.BindEnv("refresh.schedule", "ONCUE_REFRESH_SCHEDULE")
	v.BindEnv("refresh.timeout", "ONCUE_REFRESH_TIMEOUT")
	v.BindEnv("logger.level", "ONCUE_LOG_LEVEL")

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &faults.ValidationError{Field: "server.port", Msg: "must be 1-65535"}
	}
	if c.Storage.DBPath == "" {
		return &faults.ValidationError{Field: "storage.db_path", Msg: "required"}
	}
	switch c.Logger.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return &faults.ValidationError{Field: "logger.level", Msg: "must be trace, debug, info, warn or error"}
	}
	return nil
}

// ListenAddr renders host:port for http.Server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
