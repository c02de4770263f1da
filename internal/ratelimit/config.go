package ratelimit

import "time"

// Limit defines the sliding-window budget for one capability.
// Zero values mean no limit.
type Limit struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests" validate:"gte=0"`
	Window      time.Duration `yaml:"window" json:"window" validate:"gte=0"`
}

// Enabled returns true if the limit constrains anything.
func (l Limit) Enabled() bool {
	return l.MaxRequests > 0 && l.Window > 0
}

// Config maps capability names to limit overrides.
type Config map[string]Limit

// HasLimits returns true if any capability has an enabled limit.
func (c Config) HasLimits() bool {
	for _, l := range c {
		if l.Enabled() {
			return true
		}
	}
	return false
}

// Resolve returns the override for name if present, otherwise fallback.
// An override with zero values disables the fallback limit.
func (c Config) Resolve(name string, fallback Limit) Limit {
	if l, ok := c[name]; ok {
		return l
	}
	return fallback
}
