// Package signal derives behavioural signals from recorded event streams:
// rage-click clusters, scroll-depth milestones and grouped errors. Every
// detector is a pure function of its input events, so results can be
// recomputed at any time and always agree with what was materialized.
package signal

import "time"

// RageClickConfig tunes rage-click detection.
type RageClickConfig struct {
	// MinClicks is the smallest number of clicks that form a cluster.
	MinClicks int `json:"min_clicks" yaml:"min_clicks" mapstructure:"min_clicks"`

	// Window is the longest span MinClicks consecutive clicks may cover.
	Window time.Duration `json:"window" yaml:"window" mapstructure:"window"`
}

// Config holds detector thresholds.
type Config struct {
	RageClick RageClickConfig `json:"rage_click" yaml:"rage_click" mapstructure:"rage_click"`

	// ScrollThresholds are the depth percentages reported as milestones.
	ScrollThresholds []float64 `json:"scroll_thresholds" yaml:"scroll_thresholds" mapstructure:"scroll_thresholds"`
}

// DefaultScrollThresholds are the standard quarter milestones.
var DefaultScrollThresholds = []float64{25, 50, 75, 100}

// DefaultConfig returns the standard detector thresholds.
func DefaultConfig() Config {
	return Config{
		RageClick: RageClickConfig{
			MinClicks: 3,
			Window:    2 * time.Second,
		},
		ScrollThresholds: DefaultScrollThresholds,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RageClick.MinClicks < 2 {
		c.RageClick.MinClicks = d.RageClick.MinClicks
	}
	if c.RageClick.Window <= 0 {
		c.RageClick.Window = d.RageClick.Window
	}
	if len(c.ScrollThresholds) == 0 {
		c.ScrollThresholds = d.ScrollThresholds
	}
	return c
}
