// Package workflow starts ingest sessions through a workflow runtime. Noop
// runs the session inline; Temporal hands it to a Temporal cluster where an
// in-process worker executes the same Runner as an activity.
package workflow

import (
	"context"
)

// IngestRequest describes one ingest session.
type IngestRequest struct {
	SessionID       string   `json:"session_id"`
	URLs            []string `json:"urls"`
	Category        string   `json:"category,omitempty"`
	Force           bool     `json:"force"`
	PreserveHeaders bool     `json:"preserve_headers"`
}

// IngestResult counts document outcomes for a session.
type IngestResult struct {
	Delivered     int `json:"delivered"`
	Skipped       int `json:"skipped"`
	Duplicates    int `json:"duplicates"`
	Insubstantial int `json:"insubstantial"`
	Empty         int `json:"empty"`
	Failed        int `json:"failed"`
	Chunks        int `json:"chunks"`
}

// Runner executes an ingest request to completion.
type Runner func(ctx context.Context, req IngestRequest) (IngestResult, error)

// Run identifies a started session. Result is only set when the runtime
// executed the session synchronously.
type Run struct {
	WorkflowID string        `json:"workflow_id"`
	RunID      string        `json:"run_id,omitempty"`
	Simulated  bool          `json:"simulated"`
	Result     *IngestResult `json:"result,omitempty"`
}

// Client starts ingest sessions.
type Client interface {
	StartIngest(ctx context.Context, req IngestRequest) (Run, error)
	Close()
}

func workflowID(req IngestRequest) string {
	return "ingest-" + req.SessionID
}
