package tcp

import "time"

// Config holds the transport configuration surface. Designed for
// environment-based loading via core/config.
type Config struct {
	Addr           string        `env:"RELAYBUS_TCP_ADDR" envDefault:"127.0.0.1:1113"`
	MaxFrameSize   uint32        `env:"RELAYBUS_MAX_FRAME" envDefault:"67108864"`
	DialTimeout    time.Duration `env:"RELAYBUS_DIAL_TIMEOUT" envDefault:"3s"`
	RetryInterval  time.Duration `env:"RELAYBUS_RETRY_INTERVAL" envDefault:"1s"`
	WriteQueueSize int           `env:"RELAYBUS_WRITE_QUEUE" envDefault:"256"`
	CommandTimeout time.Duration `env:"RELAYBUS_COMMAND_TIMEOUT" envDefault:"500ms"`
	BridgeGroups   []string      `env:"RELAYBUS_BRIDGE_GROUPS" envSeparator:","`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:1113",
		MaxFrameSize:   64 << 20,
		DialTimeout:    3 * time.Second,
		RetryInterval:  time.Second,
		WriteQueueSize: 256,
		CommandTimeout: 500 * time.Millisecond,
	}
}
