package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg, which must be a pointer to a
// struct tagged with `env` / `envDefault`. An optional prefix is prepended to
// every variable name, letting two instances of the same struct coexist.
//
//	type Config struct {
//	    HTTPPort int    `env:"HTTP_PORT" envDefault:"8003"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any, prefix ...string) error {
	opts := env.Options{}
	if len(prefix) > 0 {
		opts.Prefix = prefix[0]
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
