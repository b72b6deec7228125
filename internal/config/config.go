// Package config loads kvsd's ambient operational tuning: logging,
// the metrics listener address, and the backpressure knobs layered on
// top of the required positional CLI arguments. None of this
// changes command-language semantics.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds ambient settings sourced from the environment (and an
// optional .env file), with environment variables always winning.
type Config struct {
	LogLevel  string `env:"KVSD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"KVSD_LOG_FORMAT" envDefault:"json"`

	MetricsAddr string `env:"KVSD_METRICS_ADDR" envDefault:":9600"`

	// SysMonitorInterval controls how often internal/sysmonitor samples
	// process CPU/RSS to inform backup admission.
	SysMonitorInterval time.Duration `env:"KVSD_SYSMONITOR_INTERVAL" envDefault:"2s"`

	// SessionConnectRatePerSec bounds how fast the registration listener
	// will admit new CONNECT records into the session queue.
	SessionConnectRatePerSec float64 `env:"KVSD_SESSION_CONNECT_RATE" envDefault:"50"`

	// BackupSpawnRatePerSec paces snapshot child spawns on top of the
	// counted semaphore, smoothing bursts of BACKUP commands.
	BackupSpawnRatePerSec float64 `env:"KVSD_BACKUP_SPAWN_RATE" envDefault:"10"`
}

// Load reads .env (if present, silently ignored if absent) and then
// environment variables into a Config with defaults applied.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
