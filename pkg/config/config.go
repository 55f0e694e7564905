package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"promo-autoresponder/pkg/constants"
)

type Config struct {
	Port                 string
	LogLevel             string
	LogFormat            string
	LogFile              string
	InstanceID           string
	StoreDialect         string
	StoreDSN             string
	RedisURL             string
	GreetingMode         string
	CooldownMS           int64
	ExcludeGroups        bool
	ScriptPreset         string
	ScriptFile           string
	MediaPath            string
	ReconnectDelayMS     int64
	ReconnectMaxAttempts int
	ReconnectLinear      bool
	HealthCheckSchedule  string
	SweepIntervalMS      int64
	SendRatePerSec       float64
	QRTerminal           bool
}

// Load reads the configuration from the environment. A .env file (or the
// file named by DOTENV_FILE) is loaded first when present; variables already
// set in the environment win.
func Load() *Config {
	_ = godotenv.Load(getEnv(constants.EnvDotEnvFile, ".env"))

	config := &Config{
		Port:                 getEnv(constants.EnvPort, "3000"),
		LogLevel:             getEnv(constants.EnvLogLevel, "info"),
		LogFormat:            getEnv(constants.EnvLogFormat, "json"),
		LogFile:              getEnv(constants.EnvLogFile, ""),
		InstanceID:           getEnv(constants.EnvInstanceID, generateInstanceID()),
		StoreDialect:         getEnv(constants.EnvStoreDialect, "sqlite3"),
		StoreDSN:             getEnv(constants.EnvStoreDSN, "file:sessions/whatsapp.db?_foreign_keys=on"),
		RedisURL:             getEnv(constants.EnvRedisURL, ""),
		GreetingMode:         strings.ToLower(getEnv(constants.EnvGreetingMode, constants.GreetingModeCooldown)),
		CooldownMS:           getEnvInt64(constants.EnvCooldownMS, constants.SecondsToMilliseconds(constants.DefaultCooldownSeconds)),
		ExcludeGroups:        getEnvBool(constants.EnvExcludeGroups, true),
		ScriptPreset:         getEnv(constants.EnvScriptPreset, "numeric"),
		ScriptFile:           getEnv(constants.EnvScriptFile, ""),
		MediaPath:            getEnv(constants.EnvMediaPath, ""),
		ReconnectDelayMS:     getEnvInt64(constants.EnvReconnectDelayMS, constants.SecondsToMilliseconds(constants.DefaultReconnectDelaySeconds)),
		ReconnectMaxAttempts: getEnvInt(constants.EnvReconnectMaxAttempts, constants.DefaultReconnectMaxAttempts),
		ReconnectLinear:      getEnvBool(constants.EnvReconnectLinear, true),
		HealthCheckSchedule:  getEnv(constants.EnvHealthCheckSchedule, constants.DefaultHealthCheckSchedule),
		SweepIntervalMS:      getEnvInt64(constants.EnvSweepIntervalMS, constants.SecondsToMilliseconds(constants.DefaultSweepIntervalSeconds)),
		SendRatePerSec:       getEnvFloat(constants.EnvSendRatePerSec, 5),
		QRTerminal:           getEnvBool(constants.EnvQRTerminal, false),
	}

	return config
}

// Validate rejects settings that would otherwise fall back silently
func (c *Config) Validate() error {
	switch c.GreetingMode {
	case constants.GreetingModeCooldown, constants.GreetingModeOnce:
	default:
		return fmt.Errorf("invalid %s %q: want %q or %q", constants.EnvGreetingMode,
			c.GreetingMode, constants.GreetingModeCooldown, constants.GreetingModeOnce)
	}

	if c.GreetingMode == constants.GreetingModeCooldown && c.CooldownMS <= 0 {
		return fmt.Errorf("invalid %s %d: must be positive", constants.EnvCooldownMS, c.CooldownMS)
	}
	return nil
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMS) * time.Millisecond
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

// GreetOnce reports whether greetings are one-time for the process lifetime
func (c *Config) GreetOnce() bool {
	return c.GreetingMode == constants.GreetingModeOnce
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return uuid.New().String()
	}
	return hostname + "-" + uuid.New().String()[:8]
}
