package app

import (
	"time"

	"github.com/chatdex/chatdex-backend/internal/platform/envutil"
	"github.com/chatdex/chatdex-backend/internal/platform/logger"
	"github.com/chatdex/chatdex-backend/internal/services"
)

type Config struct {
	Port string

	GatewayMaxConcurrent int

	Backfill services.BackfillConfig

	PollerEnabled bool
	PollTimeout   time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	defaults := services.DefaultBackfillConfig()

	return Config{
		Port: envutil.GetEnv("PORT", "8080", log),

		GatewayMaxConcurrent: envutil.GetEnvAsInt("GATEWAY_MAX_CONCURRENT", 4, log),

		Backfill: services.BackfillConfig{
			BatchSize:              envutil.GetEnvAsInt("BACKFILL_BATCH_SIZE", defaults.BatchSize, log),
			MaxRetries:             envutil.GetEnvAsInt("BACKFILL_MAX_RETRIES", defaults.MaxRetries, log),
			MaxConsecutiveFailures: envutil.GetEnvAsInt("BACKFILL_MAX_CONSECUTIVE_FAILURES", defaults.MaxConsecutiveFailures, log),
			MaxMessages:            envutil.GetEnvAsInt64("BACKFILL_MAX_MESSAGES", defaults.MaxMessages, log),
			StatusEvery:            envutil.GetEnvAsInt64("BACKFILL_STATUS_EVERY", defaults.StatusEvery, log),
			BatchPause:             envutil.GetEnvAsDuration("BACKFILL_BATCH_PAUSE_MS", defaults.BatchPause, time.Millisecond, log),
			RateLimitFallback:      envutil.GetEnvAsDuration("BACKFILL_RATE_LIMIT_FALLBACK_SECONDS", defaults.RateLimitFallback, time.Second, log),
		},

		PollerEnabled: envutil.GetEnvAsBool("POLLER_ENABLED", true, log),
		PollTimeout:   envutil.GetEnvAsDuration("POLL_TIMEOUT_SECONDS", 30*time.Second, time.Second, log),
	}
}
