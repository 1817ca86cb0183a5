package engine

import (
	"time"

	"github.com/TheLaughingGod1986/split-save-sub005/internal/advisor"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/behavior"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/retry"
	"github.com/TheLaughingGod1986/split-save-sub005/internal/risk"
)

// Config holds the engine's tunables. It is fixed at construction.
type Config struct {
	// StoreTimeout bounds every single collaborator call.
	StoreTimeout time.Duration
	// StalenessWindow is how old an analysis may get before assessment
	// recomputes it.
	StalenessWindow time.Duration
	// RiskWindow is how far back "recent" events reach for risk assessment.
	RiskWindow time.Duration
	// LockTimeout bounds how long an operation waits for the per-user lock.
	LockTimeout time.Duration

	Params             behavior.Params
	MaxRecommendations int

	ReadPolicy  retry.Policy
	WritePolicy retry.Policy

	BreakerThreshold    int
	BreakerOpenDuration time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StoreTimeout:        2 * time.Second,
		StalenessWindow:     24 * time.Hour,
		RiskWindow:          risk.DefaultWindow,
		LockTimeout:         10 * time.Second,
		Params:              behavior.DefaultParams(),
		MaxRecommendations:  advisor.DefaultMaxResults,
		ReadPolicy:          retry.DefaultPolicy,
		WritePolicy:         retry.DefaultPolicy,
		BreakerThreshold:    5,
		BreakerOpenDuration: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = d.StoreTimeout
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = d.StalenessWindow
	}
	if c.RiskWindow <= 0 {
		c.RiskWindow = d.RiskWindow
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.Params == (behavior.Params{}) {
		c.Params = d.Params
	}
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = d.MaxRecommendations
	}
	if c.ReadPolicy.Attempts <= 0 {
		c.ReadPolicy = d.ReadPolicy
	}
	if c.WritePolicy.Attempts <= 0 {
		c.WritePolicy = d.WritePolicy
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerOpenDuration <= 0 {
		c.BreakerOpenDuration = d.BreakerOpenDuration
	}
	return c
}
