// Package config resolves the agent's runtime configuration from the
// environment, with an optional .env file for development hosts.
// Priority: environment variables > .env file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// APIConfig holds the coordination API connection settings.
type APIConfig struct {
	BaseURL string
	AppURL  string
	Token   string
	Timeout time.Duration
}

// ServerConfig holds the daemon's own listen settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// RunnerConfig holds process-supervision settings.
type RunnerConfig struct {
	PythonPath        string
	RscriptPath       string
	HeartbeatInterval time.Duration
}

// MailConfig holds SMTP relay settings.
type MailConfig struct {
	Host string
	Port int
	From string
}

// SMSConfig holds the SNS broker settings.
type SMSConfig struct {
	Region string
}

// CronConfig holds crontab and timezone settings.
type CronConfig struct {
	User     string
	Timezone string
	Display  string
	Binary   string
}

// Config holds all runtime configuration for the agent.
type Config struct {
	API      APIConfig
	Server   ServerConfig
	Runner   RunnerConfig
	Mail     MailConfig
	SMS      SMSConfig
	Cron     CronConfig
	StateDir string
	LogLevel string
}

const (
	defaultAddr              = "0.0.0.0:7070"
	defaultLogLevel          = "info"
	defaultAPITimeout        = 10 * time.Second
	defaultHeartbeatInterval = time.Minute
	defaultSMTPPort          = 25
	defaultSMSRegion         = "us-east-1"
	defaultPythonPath        = "python3"
	defaultRscriptPath       = "Rscript"
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Load builds the configuration. The .env file is optional; explicit
// environment variables win over it.
func Load() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "sprucepy", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		API: APIConfig{
			BaseURL: getEnvString("SPRUCE_API_URL", ""),
			AppURL:  getEnvString("SPRUCE_APP_URL", ""),
			Token:   getEnvString("SPRUCE_API_TOKEN", ""),
			Timeout: getEnvDuration("SPRUCE_API_TIMEOUT", defaultAPITimeout),
		},
		Server: ServerConfig{
			Addr:      getEnvString("SPRUCE_ADDR", defaultAddr),
			AuthToken: getEnvString("SPRUCE_AUTH_TOKEN", ""),
		},
		Runner: RunnerConfig{
			PythonPath:        getEnvString("SPRUCE_PYTHON_PATH", defaultPythonPath),
			RscriptPath:       getEnvString("SPRUCE_RSCRIPT_PATH", defaultRscriptPath),
			HeartbeatInterval: getEnvDuration("SPRUCE_HEARTBEAT_INTERVAL", defaultHeartbeatInterval),
		},
		Mail: MailConfig{
			Host: getEnvString("SPRUCE_SMTP_HOST", ""),
			Port: getEnvInt("SPRUCE_SMTP_PORT", defaultSMTPPort),
			From: getEnvString("SPRUCE_MAIL_FROM", ""),
		},
		SMS: SMSConfig{
			Region: getEnvString("SPRUCE_SMS_REGION", defaultSMSRegion),
		},
		Cron: CronConfig{
			User:     getEnvString("SPRUCE_CRON_USER", ""),
			Timezone: getEnvString("SPRUCE_CRON_TZ", "UTC"),
			Display:  getEnvString("SPRUCE_DISPLAY_TZ", "America/New_York"),
			Binary:   getEnvString("SPRUCE_BINARY", "spruce"),
		},
		StateDir: getEnvString("SPRUCE_STATE_DIR", ""),
		LogLevel: getEnvString("SPRUCE_LOG_LEVEL", defaultLogLevel),
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	return cfg, nil
}

// CronLocation loads the timezone the cron daemon evaluates schedules in.
func (c *Config) CronLocation() (*time.Location, error) {
	return loadLocation(c.Cron.Timezone)
}

// DisplayLocation loads the timezone schedules and timestamps are shown in.
func (c *Config) DisplayLocation() (*time.Location, error) {
	return loadLocation(c.Cron.Display)
}

func loadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "sprucepy")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
