package config

import "fmt"

// Adaptive rate limiting presets, from most penalty-heavy to lightest.
const (
	PresetConservative = "conservative"
	PresetBalanced     = "balanced"
	PresetOptimistic   = "optimistic"
)

// presetValues maps a preset name to the adaptive options it curates.
func presetValues(name string) (map[string]string, bool) {
	switch name {
	case PresetConservative:
		return map[string]string{
			"rate_limit.strategy":        StrategyAdaptive,
			"rate_limit.max_wait_time":   "90s",
			"rate_limit.min_rate_floor":  "0.2",
			"rate_limit.penalty_factor":  "0.5",
			"rate_limit.recovery_factor": "0.02",
		}, true
	case PresetBalanced:
		return map[string]string{
			"rate_limit.strategy":        StrategyAdaptive,
			"rate_limit.max_wait_time":   "45s",
			"rate_limit.min_rate_floor":  "0.1",
			"rate_limit.penalty_factor":  "0.3",
			"rate_limit.recovery_factor": "0.05",
		}, true
	case PresetOptimistic:
		return map[string]string{
			"rate_limit.strategy":        StrategyAdaptive,
			"rate_limit.max_wait_time":   "30s",
			"rate_limit.min_rate_floor":  "0.05",
			"rate_limit.penalty_factor":  "0.15",
			"rate_limit.recovery_factor": "0.1",
		}, true
	}
	return nil, false
}

// ApplyPreset enables adaptive rate limiting with a curated combination of
// wait, floor, penalty and recovery values.
func (r *Registry) ApplyPreset(name string) error {
	values, ok := presetValues(name)
	if !ok {
		return fmt.Errorf("unknown adaptive preset %q", name)
	}
	values["rate_limit.enabled"] = "true"
	return r.SetAll(values)
}
