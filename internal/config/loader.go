package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// ssmParamSuffix marks a variable whose value is an SSM path. For example
	// STRIPE_SECRET_KEY_SSM_PARAM=/prod/stride/stripe/secret resolves into
	// STRIPE_SECRET_KEY.
	ssmParamSuffix = "_SSM_PARAM"

	localEnv = "local"

	ssmResolveTimeout = 30 * time.Second
)

// osEnv abstracts process environment access so the loader can be tested
// without touching global state.
type osEnv struct {
	lookup  func(key string) (string, bool)
	set     func(key, value string) error
	environ func() []string
}

func processEnv() osEnv {
	return osEnv{lookup: os.LookupEnv, set: os.Setenv, environ: os.Environ}
}

// LoadConfig loads, resolves and validates the configuration.
//
// The process timezone is forced to UTC, a .env file is loaded when present,
// _SSM_PARAM pointers are resolved through provider (skipped when
// APP_ENV=local), and the result is parsed with envconfig and validated.
// provider may be nil in local mode.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return load(provider, processEnv())
}

func load(provider SecretProvider, env osEnv) (*Config, error) {
	time.Local = time.UTC

	// Missing .env is fine; existing variables are never overridden.
	_ = godotenv.Load()

	if appEnv, _ := env.lookup("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, env); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.Database.MinConns, cfg.Database.MaxConns),
		}
	}

	return &cfg, nil
}

// resolveSSMParams fetches every <NAME>_SSM_PARAM pointer whose target NAME
// is not already set and exports the plaintext as NAME.
func resolveSSMParams(provider SecretProvider, env osEnv) error {
	// path -> target variable
	pending := make(map[string]string)
	for _, entry := range env.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := env.lookup(target); set {
			continue
		}
		pending[path] = target
	}
	if len(pending) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SecretProvider is required outside local mode (need to resolve: " + strings.Join(sortedValues(pending), ", ") + ")",
		}
	}

	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		target := pending[path]
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, target)
			continue
		}
		if err := env.set(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to export resolved value for " + target,
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}

	return nil
}

func sortedValues(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
