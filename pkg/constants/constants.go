package constants

import "time"

// Default reply and session timing values
const (
	// DefaultCooldownSeconds - How long a greeted sender stays suppressed
	DefaultCooldownSeconds = 60

	// DefaultReminderDelaySeconds - Delay of the reminder follow-up
	DefaultReminderDelaySeconds = 30

	// DefaultReconnectDelaySeconds - Base delay before reinitializing a session
	DefaultReconnectDelaySeconds = 5

	// DefaultReconnectMaxAttempts - Reinitialization attempts before giving up
	DefaultReconnectMaxAttempts = 5

	// DefaultSweepIntervalSeconds - Interval of the expired cool-down sweep
	DefaultSweepIntervalSeconds = 60

	// DefaultSendTimeoutSeconds - Upper bound for a single outbound send
	DefaultSendTimeoutSeconds = 30

	// DefaultQRRefreshSeconds - Auto refresh interval of the pairing page
	DefaultQRRefreshSeconds = 30
)

// Greeting modes
const (
	GreetingModeCooldown = "cooldown"
	GreetingModeOnce     = "once"
)

// DefaultHealthCheckSchedule - cron spec for the connection check
const DefaultHealthCheckSchedule = "@every 30s"

// Redis key names
const (
	GreetedSendersKey = "greeted_senders"
)

// PingResponse is the literal served by the liveness probe
const PingResponse = "pong"

// Configuration environment variable names
const (
	EnvPort                 = "PORT"
	EnvLogLevel             = "LOG_LEVEL"
	EnvLogFormat            = "LOG_FORMAT"
	EnvLogFile              = "LOG_FILE"
	EnvInstanceID           = "INSTANCE_ID"
	EnvStoreDialect         = "STORE_DIALECT"
	EnvStoreDSN             = "STORE_DSN"
	EnvRedisURL             = "REDIS_URL"
	EnvGreetingMode         = "GREETING_MODE"
	EnvCooldownMS           = "COOLDOWN_MS"
	EnvExcludeGroups        = "EXCLUDE_GROUPS"
	EnvScriptPreset         = "SCRIPT_PRESET"
	EnvScriptFile           = "SCRIPT_FILE"
	EnvMediaPath            = "MEDIA_PATH"
	EnvReconnectDelayMS     = "RECONNECT_DELAY_MS"
	EnvReconnectMaxAttempts = "RECONNECT_MAX_ATTEMPTS"
	EnvReconnectLinear      = "RECONNECT_LINEAR"
	EnvHealthCheckSchedule  = "HEALTH_CHECK_SCHEDULE"
	EnvSweepIntervalMS      = "SWEEP_INTERVAL_MS"
	EnvSendRatePerSec       = "SEND_RATE_PER_SEC"
	EnvQRTerminal           = "QR_TERMINAL"
	EnvDotEnvFile           = "DOTENV_FILE"
)

// Helper functions for time conversions
func SecondsToMilliseconds(seconds int) int64 {
	return int64(seconds * 1000)
}

func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// ReconnectDelay returns the wait before the given (1-based) attempt.
// Linear policies scale the base delay by the attempt number.
func ReconnectDelay(base time.Duration, attempt int, linear bool) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if !linear {
		return base
	}
	return base * time.Duration(attempt)
}
