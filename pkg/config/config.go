// Package config loads environment-backed configuration structs.
//
// Struct fields are annotated with `env` tags (see github.com/caarlos0/env);
// a .env file in the working directory is loaded once, if present, before
// the first parse.
package config

import (
	"errors"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrParsingConfig wraps env parsing failures (missing required
	// variables, bad values).
	ErrParsingConfig = errors.New("failed to parse config")

	dotenvOnce sync.Once
)

// Load populates cfg from the process environment.
func Load[T any](cfg *T) error {
	dotenvOnce.Do(func() {
		// A missing .env file is fine; the environment may be set directly.
		_ = godotenv.Load()
	})

	if err := env.Parse(cfg); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

// MustLoad is Load for configuration the process cannot start without.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
