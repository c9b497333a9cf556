package model

import "time"

// RunStatus enumerates sync-run lifecycle states.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary aggregates per-row outcomes of one pipeline run.
type RunSummary struct {
	Rows                 int   `json:"rows"`
	IndicatorsCreated    int   `json:"indicators_created"`
	IndicatorsUpdated    int   `json:"indicators_updated"`
	RowsSkipped          int   `json:"rows_skipped"`
	RowsFailed           int   `json:"rows_failed"`
	ObservationsInserted int64 `json:"observations_inserted"`
}

// SyncRun is one recorded pipeline run in the catalog's run log.
type SyncRun struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     RunSummary `json:"summary"`
	Error       string     `json:"error,omitempty"`
}

// CatalogStats holds headline counts for the status command.
type CatalogStats struct {
	Categories   int64 `json:"categories"`
	Indicators   int64 `json:"indicators"`
	Observations int64 `json:"observations"`
}
