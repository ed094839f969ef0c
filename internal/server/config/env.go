package config

import (
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every env tag on Config.
const EnvPrefix = "ACCOUNT_"

// parseEnv overlays ACCOUNT_* environment variables onto config. Variables
// that are not set leave the current value untouched. A malformed value
// (e.g. ACCOUNT_EXPORT_TTL=soon) panics, like a broken JSON file does.
func parseEnv(config *Config) {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		panic(err)
	}
}
