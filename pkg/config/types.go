package config

import (
	"time"

	"cachekit-reliability/pkg/reliability"
)

// GuardServiceConfig is the top-level configuration of the guard service.
type GuardServiceConfig struct {
	Defaults       reliability.GuardConfig          `mapstructure:"defaults" yaml:"defaults"`
	Guards         []reliability.GuardConfig        `mapstructure:"guards" yaml:"guards"`
	TimeoutManager reliability.TimeoutManagerConfig `mapstructure:"timeout_manager" yaml:"timeout_manager"`
	Logging        LoggingConfig                    `mapstructure:"logging" yaml:"logging"`
	Monitoring     MonitoringConfig                 `mapstructure:"monitoring" yaml:"monitoring"`
	Server         ServerConfig                     `mapstructure:"server" yaml:"server"`
}

type LoggingConfig struct {
	Level          string   `mapstructure:"level" yaml:"level"`
	Format         string   `mapstructure:"format" yaml:"format"` // "json", "console"
	Output         []string `mapstructure:"output" yaml:"output"` // "stdout", "stderr", "file"
	FilePath       string   `mapstructure:"file_path" yaml:"file_path"`
	MaxSize        int      `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxBackups     int      `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge         int      `mapstructure:"max_age" yaml:"max_age"` // days
	Compress       bool     `mapstructure:"compress" yaml:"compress"`
	SanitizeFields []string `mapstructure:"sanitize_fields" yaml:"sanitize_fields"`
}

type MonitoringConfig struct {
	Enabled    bool             `mapstructure:"enabled" yaml:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
}

type PrometheusConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	Subsystem string `mapstructure:"subsystem" yaml:"subsystem"`
}

type HealthConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Path      string `mapstructure:"path" yaml:"path"`
	ReadyPath string `mapstructure:"ready_path" yaml:"ready_path"`
	LivePath  string `mapstructure:"live_path" yaml:"live_path"`
	StatsPath string `mapstructure:"stats_path" yaml:"stats_path"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls" yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file"`
}
