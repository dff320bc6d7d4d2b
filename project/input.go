package project

// Input is the creation/update payload for projects. Nil pointer fields
// are left unchanged on update.
type Input struct {
	Name             string            `json:"name"`
	RecordingEnabled *bool             `json:"recording_enabled,omitempty"`
	ConsentRequired  *bool             `json:"consent_required,omitempty"`
	MaskAllInputs    *bool             `json:"mask_all_inputs,omitempty"`
	MaskSelectors    []string          `json:"mask_selectors,omitempty"`
	RetentionDays    *int              `json:"retention_days,omitempty"`
	RateLimit        *int              `json:"rate_limit,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for project listing.
type ListOpts struct {
	Offset  int
	Limit   int
	Enabled *bool
}
