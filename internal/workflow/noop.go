package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Noop runs every session inline with its Runner.
type Noop struct {
	run    Runner
	logger *zap.Logger
}

// NewNoop wraps run.
func NewNoop(run Runner, logger *zap.Logger) *Noop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Noop{run: run, logger: logger}
}

// StartIngest runs req and returns once the session is finished.
func (n *Noop) StartIngest(ctx context.Context, req IngestRequest) (Run, error) {
	if n.run == nil {
		return Run{}, errors.New("workflow: no runner configured")
	}
	if req.SessionID == "" {
		return Run{}, errors.New("workflow: session id is required")
	}
	n.logger.Info("running ingest inline",
		zap.String("session_id", req.SessionID),
		zap.Int("urls", len(req.URLs)),
	)
	res, err := n.run(ctx, req)
	run := Run{WorkflowID: workflowID(req), Simulated: true, Result: &res}
	if err != nil {
		return run, fmt.Errorf("run ingest %s: %w", req.SessionID, err)
	}
	return run, nil
}

// Close does nothing.
func (*Noop) Close() {}
