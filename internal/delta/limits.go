package delta

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits bounds what a single delta may do. Anything outside them is treated
// as a generator error and rejected.
type Limits struct {
	MaxStatDelta       int `yaml:"max_stat_delta"`
	MaxItemQuantity    int `yaml:"max_item_quantity"`
	MaxEffectBonus     int `yaml:"max_effect_bonus"`
	MaxEffectDuration  int `yaml:"max_effect_duration"`
	MaxCooldown        int `yaml:"max_cooldown"`
	MaxRewardCurrency  int `yaml:"max_reward_currency"`
	MaxObjectives      int `yaml:"max_objectives"`
	MinTimeAdvanceDays int `yaml:"min_time_advance_days"`
	MaxTimeAdvanceDays int `yaml:"max_time_advance_days"`
	MaxDeltasPerTurn   int `yaml:"max_deltas_per_turn"`
}

// DefaultLimits are generous enough for any plausible turn.
func DefaultLimits() Limits {
	return Limits{
		MaxStatDelta:       250,
		MaxItemQuantity:    99,
		MaxEffectBonus:     50,
		MaxEffectDuration:  365,
		MaxCooldown:        100,
		MaxRewardCurrency:  100000,
		MaxObjectives:      10,
		MinTimeAdvanceDays: 1,
		MaxTimeAdvanceDays: 3650,
		MaxDeltasPerTurn:   32,
	}
}

// LoadLimits reads a YAML file over DefaultLimits; keys it omits keep their
// defaults.
func LoadLimits(path string) (Limits, error) {
	l := DefaultLimits()
	raw, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("limits file %s: %w", path, err)
	}
	return l, l.Validate()
}

// Validate reports limits that would reject everything or nothing.
func (l Limits) Validate() error {
	checks := []struct {
		name string
		v    int
	}{
		{"max_stat_delta", l.MaxStatDelta},
		{"max_item_quantity", l.MaxItemQuantity},
		{"max_effect_bonus", l.MaxEffectBonus},
		{"max_effect_duration", l.MaxEffectDuration},
		{"max_objectives", l.MaxObjectives},
		{"max_time_advance_days", l.MaxTimeAdvanceDays},
		{"max_deltas_per_turn", l.MaxDeltasPerTurn},
	}
	for _, c := range checks {
		if c.v <= 0 {
			return fmt.Errorf("limit %s must be positive, got %d", c.name, c.v)
		}
	}
	if l.MaxCooldown < 0 || l.MaxRewardCurrency < 0 {
		return fmt.Errorf("limits max_cooldown and max_reward_currency must not be negative")
	}
	if l.MinTimeAdvanceDays < 0 || l.MinTimeAdvanceDays > l.MaxTimeAdvanceDays {
		return fmt.Errorf("min_time_advance_days %d outside [0, %d]", l.MinTimeAdvanceDays, l.MaxTimeAdvanceDays)
	}
	return nil
}
