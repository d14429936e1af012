package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybus/relaybus/core/config"
)

// Each test uses its own config type: Load caches by concrete type, so
// sharing one across tests would leak values between them.

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		type defaultsConfig struct {
			Addr    string        `env:"TEST_DEFAULTS_ADDR" envDefault:"127.0.0.1:1113"`
			Timeout time.Duration `env:"TEST_DEFAULTS_TIMEOUT" envDefault:"500ms"`
			Pool    int           `env:"TEST_DEFAULTS_POOL" envDefault:"4"`
		}

		var cfg defaultsConfig
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "127.0.0.1:1113", cfg.Addr)
		assert.Equal(t, 500*time.Millisecond, cfg.Timeout)
		assert.Equal(t, 4, cfg.Pool)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		type overrideConfig struct {
			Addr string `env:"TEST_OVERRIDE_ADDR" envDefault:"127.0.0.1:1113"`
		}

		t.Setenv("TEST_OVERRIDE_ADDR", "10.0.0.5:9000")

		var cfg overrideConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "10.0.0.5:9000", cfg.Addr)
	})

	t.Run("second load hits the cache", func(t *testing.T) {
		type cachedConfig struct {
			Value string `env:"TEST_CACHED_VALUE" envDefault:"initial"`
		}

		var first cachedConfig
		require.NoError(t, config.Load(&first))
		require.Equal(t, "initial", first.Value)

		// A later environment change must not show up: the type was
		// already parsed.
		t.Setenv("TEST_CACHED_VALUE", "changed")

		var second cachedConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, "initial", second.Value)
	})

	t.Run("list separator", func(t *testing.T) {
		type listConfig struct {
			Groups []string `env:"TEST_LIST_GROUPS" envSeparator:","`
		}

		t.Setenv("TEST_LIST_GROUPS", "events,commands")

		var cfg listConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, []string{"events", "commands"}, cfg.Groups)
	})

	t.Run("invalid value", func(t *testing.T) {
		type invalidConfig struct {
			Timeout time.Duration `env:"TEST_INVALID_TIMEOUT" envDefault:"1s"`
		}

		t.Setenv("TEST_INVALID_TIMEOUT", "not-a-duration")

		var cfg invalidConfig
		assert.Error(t, config.Load(&cfg))
	})

	t.Run("nil destination", func(t *testing.T) {
		var cfg *struct{}
		assert.Error(t, config.Load(cfg))
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		type mustConfig struct {
			Pool int `env:"TEST_MUST_POOL"`
		}

		t.Setenv("TEST_MUST_POOL", "not-a-number")

		assert.Panics(t, func() {
			var cfg mustConfig
			config.MustLoad(&cfg)
		})
	})
}
