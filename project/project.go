package project

import (
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/internal/entity"
	"github.com/xraph/rewind/recorder"
)

// Project groups recorded sessions under one ingest key and carries the
// recording settings clients fetch before capturing.
type Project struct {
	entity.Entity

	ID   id.ID  `json:"id"`
	Name string `json:"name"`

	// IngestKey authenticates and signs uploads. Never serialized.
	IngestKey string `json:"-"`

	// RecordingEnabled gates ingestion. Disabled projects reject batches.
	RecordingEnabled bool `json:"recording_enabled"`

	ConsentRequired bool     `json:"consent_required"`
	MaskAllInputs   bool     `json:"mask_all_inputs"`
	MaskSelectors   []string `json:"mask_selectors,omitempty"`

	// RetentionDays bounds how long sessions are kept. 0 keeps forever.
	RetentionDays int `json:"retention_days"`

	// RateLimit is the maximum events per second accepted per session.
	// 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Settings is the client-facing subset of a project.
type Settings struct {
	ProjectID        id.ID    `json:"project_id"`
	RecordingEnabled bool     `json:"recording_enabled"`
	ConsentRequired  bool     `json:"consent_required"`
	MaskAllInputs    bool     `json:"mask_all_inputs"`
	MaskSelectors    []string `json:"mask_selectors,omitempty"`
}

// Settings returns the recording settings clients need.
func (p *Project) Settings() Settings {
	return Settings{
		ProjectID:        p.ID,
		RecordingEnabled: p.RecordingEnabled,
		ConsentRequired:  p.ConsentRequired,
		MaskAllInputs:    p.MaskAllInputs,
		MaskSelectors:    p.MaskSelectors,
	}
}

// Apply overlays the settings on a recorder configuration.
func (s Settings) Apply(cfg recorder.Config) recorder.Config {
	cfg.ConsentRequired = cfg.ConsentRequired || s.ConsentRequired
	cfg.MaskAllInputs = cfg.MaskAllInputs || s.MaskAllInputs
	cfg.MaskSelectors = append(append([]string(nil), cfg.MaskSelectors...), s.MaskSelectors...)
	return cfg
}
