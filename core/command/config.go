package command

import "time"

// Config holds the dispatcher configuration surface. Designed for
// environment-based loading via core/config.
type Config struct {
	PoolSize       int           `env:"RELAYBUS_POOL_SIZE" envDefault:"4"`
	DefaultTimeout time.Duration `env:"RELAYBUS_COMMAND_TIMEOUT" envDefault:"500ms"`
	SlowThreshold  time.Duration `env:"RELAYBUS_SLOW_THRESHOLD" envDefault:"100ms"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		PoolSize:       4,
		DefaultTimeout: 500 * time.Millisecond,
		SlowThreshold:  100 * time.Millisecond,
	}
}
