// Package config provides type-safe environment variable loading with
// caching using Go generics. Each configuration type is loaded once and
// cached for subsequent calls.
//
// The package loads .env files on first use and parses environment
// variables into struct fields via the caarlos0/env library.
//
// Basic usage:
//
//	import "github.com/relaybus/relaybus/core/config"
//
//	type TransportConfig struct {
//	    Addr         string        `env:"RELAYBUS_TCP_ADDR" envDefault:"127.0.0.1:1113"`
//	    MaxFrameSize uint32        `env:"RELAYBUS_MAX_FRAME" envDefault:"67108864"`
//	    DialTimeout  time.Duration `env:"RELAYBUS_DIAL_TIMEOUT" envDefault:"3s"`
//	}
//
//	func main() {
//	    var cfg TransportConfig
//	    if err := config.Load(&cfg); err != nil {
//	        log.Fatal(err)
//	    }
//	    // Or panic on failure (useful for startup):
//	    config.MustLoad(&cfg)
//	}
//
// Each configuration type is loaded only once per process; later Load
// calls for the same type return the cached value.
package config
