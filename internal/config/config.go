// Package config loads the sanctiond configuration from presets and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/opensource-finance/sanctiond/internal/domain"
)

// Load reads the optional env files (".env" when none are given), picks the
// preset for SANCTIOND_TIER and applies environment overrides on top of it.
func Load(envFiles ...string) (*domain.Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	var cfg *domain.Config
	switch tier := domain.Tier(os.Getenv("SANCTIOND_TIER")); tier {
	case "", domain.TierCommunity:
		cfg = domain.DefaultConfig()
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values no component can run with.
func Validate(cfg *domain.Config) error {
	verr := &domain.ValidationError{}

	p := cfg.Policy
	if p.RecidivismStepBP < 0 {
		verr.Add("policy.recidivismStepBp", "must not be negative")
	}
	if p.RecidivismCap < 0 {
		verr.Add("policy.recidivismCap", "must not be negative")
	}
	if p.StateShareBP < 0 || p.StateShareBP > 10000 {
		verr.Add("policy.stateShareBp", "must be between 0 and 10000")
	}
	if p.StateBudgetCode == "" {
		verr.Add("policy.stateBudgetCode", "required")
	}
	if p.RegionBudgetCode == "" {
		verr.Add("policy.regionBudgetCode", "required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		verr.Add("server.port", "must be a valid TCP port")
	}
	if cfg.Worker.SweepInterval < 0 {
		verr.Add("worker.sweepInterval", "must not be negative")
	}
	if !cfg.Auth.AllowHeaderActors && cfg.Auth.JWTSecret == "" {
		verr.Add("auth", "either SANCTIOND_JWT_SECRET or SANCTIOND_HEADER_ACTORS is required")
	}

	return verr.OrNil()
}

// Usage returns the environment variables understood by Load.
func Usage() (string, error) {
	return cleanenv.GetDescription(domain.DefaultConfig(), nil)
}
