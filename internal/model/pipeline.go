package model

// StageMeta is one pipeline stage as reported by the CRM's pipeline
// metadata endpoint. IsClosed is nil when the CRM did not provide
// closed metadata, in which case classification falls back to pattern
// matching on the id and label.
type StageMeta struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	IsClosed *bool  `json:"is_closed,omitempty"`
}

// Pipeline is one CRM pipeline with its ordered stages.
type Pipeline struct {
	ID     string      `json:"id"`
	Label  string      `json:"label"`
	Stages []StageMeta `json:"stages"`
}

// StageInfo is the resolved, read-only view of one stage used
// throughout a single engine pass. Built once per pipeline snapshot;
// never mutated mid-computation.
type StageInfo struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"display_name"`
	IsClosedWon  bool    `json:"is_closed_won"`
	IsClosedLost bool    `json:"is_closed_lost"`
	Excluded     bool    `json:"excluded"`
	Weight       float64 `json:"weight"`
}
