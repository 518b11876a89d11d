package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 5001
	defaultLogFile         = "/var/log/micromdm/webhook.log"
	defaultResultsLog      = "/var/log/micromdm/command-results.log"
	defaultMaxBodySize     = 32 * 1024 * 1024
	defaultShutdownTimeout = 5 * time.Second
	defaultBackupInterval  = 6 * time.Hour
	defaultBackupKeepLast  = 24
)

// appConfig is internal runtime configuration.
type appConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Debug           bool          `mapstructure:"debug"`
	LogFile         string        `mapstructure:"log-file"`
	ResultsLog      string        `mapstructure:"results-log"`
	MaxBodySize     int64         `mapstructure:"max-body-size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`

	BackupEnabled        bool          `mapstructure:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

// boundFlags are the command-line flags that override config file and env values.
var boundFlags = []string{"host", "port", "debug", "log-file", "results-log"}

func newFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("mdm-webhook", pflag.ContinueOnError)
	flagSet.String("config", "", "config file (default is $HOME/.config/mdm-webhook/config.yml)")
	flagSet.Bool("version", false, "print version information")
	flagSet.String("host", defaultHost, "listen host")
	flagSet.Int("port", defaultPort, "listen port")
	flagSet.Bool("debug", false, "enable debug logging")
	flagSet.String("log-file", defaultLogFile, "service log file")
	flagSet.String("results-log", defaultResultsLog, "append-only command results log")
	return flagSet
}

func loadConfig(flagSet *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	// A missing home directory only disables the default config file and ~ expansion.
	home, _ := os.UserHomeDir()

	v := viper.New()
	v.SetEnvPrefix("WEBHOOK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultHost)
	v.SetDefault("port", defaultPort)
	v.SetDefault("debug", false)
	v.SetDefault("log-file", defaultLogFile)
	v.SetDefault("results-log", defaultResultsLog)
	v.SetDefault("max-body-size", defaultMaxBodySize)
	v.SetDefault("shutdown-timeout", defaultShutdownTimeout)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", "")
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-bucket-url", "")
	v.SetDefault("backup-s3-endpoint", "")
	v.SetDefault("backup-s3-region", "")
	v.SetDefault("backup-s3-access-key", "")
	v.SetDefault("backup-s3-secret-key", "")
	v.SetDefault("backup-s3-session-token", "")
	v.SetDefault("backup-s3-use-ssl", true)

	for _, name := range boundFlags {
		if flag := flagSet.Lookup(name); flag != nil {
			if err := v.BindPFlag(name, flag); err != nil {
				return cfg, fmt.Errorf("binding flag %q: %w", name, err)
			}
		}
	}

	configPath, _ := flagSet.GetString("config")
	if configPath == "" && home != "" {
		configPath = filepath.Join(home, ".config", "mdm-webhook", "config.yml")
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var configFileNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.ResultsLog) == "" {
		return cfg, fmt.Errorf("results-log must not be empty")
	}

	cfg.LogFile = expandHome(cfg.LogFile, home)
	cfg.ResultsLog = expandHome(cfg.ResultsLog, home)
	cfg.BackupLocalDir = expandHome(cfg.BackupLocalDir, home)

	return cfg, nil
}

func expandHome(path, home string) string {
	if home != "" && strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
