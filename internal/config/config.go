// Package config provides functionality for managing configuration options
// for the collector using command-line flags, environment variables, a .env
// file and an optional JSON config file.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Options holds the configuration values for the collector.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address"`

	// DatabaseDSN holds the database connection string for the application.
	DatabaseDSN string `json:"database_dsn"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// SessionTTL is how long an uploaded scan session stays retrievable.
	SessionTTL time.Duration `json:"-"`

	// CleanInterval is the period of the expired session cleaner.
	CleanInterval time.Duration `json:"-"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	LogLevel string `json:"log_level"`
}

// fileOptions mirrors Options for the JSON file, with durations as strings.
type fileOptions struct {
	*Options
	SessionTTL    string `json:"session_ttl"`
	CleanInterval string `json:"clean_interval"`
}

// TLSEnabled reports whether both certificate and key paths are configured.
func (o *Options) TLSEnabled() bool {
	return o.TLSCert != "" && o.TLSKey != ""
}

// Parse parses the process flags, .env and environment variables.
// It exits the process on invalid configuration.
func Parse() *Options {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("error while loading .env: %v", err)
	}
	opts, err := Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatal(err)
	}
	return opts
}

// Load resolves options in order of increasing precedence:
// defaults, flags, the JSON config file, environment variables.
func Load(fs *flag.FlagSet, args []string, getenv func(string) string) (*Options, error) {
	options := &Options{}
	fs.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	fs.DurationVar(&options.SessionTTL, "ttl", 7*24*time.Hour, "scan session time to live")
	fs.DurationVar(&options.CleanInterval, "clean-interval", time.Hour, "expired session cleanup interval")
	fs.StringVar(&options.TLSCert, "tls-cert", "", "server TLS certificate")
	fs.StringVar(&options.TLSKey, "tls-key", "", "server TLS key")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override flags with environment variables if set
	if configPath := getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			if err := readFile(options.Config, options); err != nil {
				return nil, err
			}
		}
	}

	if serverAddress := getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Port = serverAddress
	}
	if dsn := getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if v := getenv("TLS_CERT"); v != "" {
		options.TLSCert = v
	}
	if v := getenv("TLS_KEY"); v != "" {
		options.TLSKey = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		options.LogLevel = v
	}
	if err := envDuration(getenv, "SESSION_TTL", &options.SessionTTL); err != nil {
		return nil, err
	}
	if err := envDuration(getenv, "CLEAN_INTERVAL", &options.CleanInterval); err != nil {
		return nil, err
	}

	if options.SessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", options.SessionTTL)
	}
	if options.CleanInterval <= 0 {
		return nil, fmt.Errorf("clean interval must be positive, got %s", options.CleanInterval)
	}
	return options, nil
}

func readFile(path string, options *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	fo := fileOptions{Options: options}
	if err := json.Unmarshal(data, &fo); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	if fo.SessionTTL != "" {
		if options.SessionTTL, err = time.ParseDuration(fo.SessionTTL); err != nil {
			return fmt.Errorf("session_ttl: %w", err)
		}
	}
	if fo.CleanInterval != "" {
		if options.CleanInterval, err = time.ParseDuration(fo.CleanInterval); err != nil {
			return fmt.Errorf("clean_interval: %w", err)
		}
	}
	return nil
}

func envDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
