package workflow

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"
)

// Registered names.
const (
	IngestWorkflowName = "CorpusIngestWorkflow"
	IngestActivityName = "CorpusIngestActivity"
)

// IngestWorkflow runs the whole session as one retried activity.
func IngestWorkflow(ctx sdkworkflow.Context, req IngestRequest) (IngestResult, error) {
	ctx = sdkworkflow.WithActivityOptions(ctx, sdkworkflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	logger := sdkworkflow.GetLogger(ctx)
	logger.Info("ingest workflow started", "session_id", req.SessionID, "urls", len(req.URLs))

	var res IngestResult
	if err := sdkworkflow.ExecuteActivity(ctx, IngestActivityName, req).Get(ctx, &res); err != nil {
		return IngestResult{}, err
	}
	logger.Info("ingest workflow finished", "session_id", req.SessionID, "delivered", res.Delivered)
	return res, nil
}

// Activities binds a Runner to the ingest activity.
type Activities struct {
	Run Runner
}

// Ingest executes req.
func (a *Activities) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if a.Run == nil {
		return IngestResult{}, temporal.NewNonRetryableApplicationError("no runner configured", "config", errors.New("nil runner"))
	}
	activity.GetLogger(ctx).Info("ingest activity", "session_id", req.SessionID)
	return a.Run(ctx, req)
}

// Register adds the workflow and activity to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(IngestWorkflow, sdkworkflow.RegisterOptions{Name: IngestWorkflowName})
	r.RegisterActivityWithOptions(acts.Ingest, activity.RegisterOptions{Name: IngestActivityName})
}

// NewWorker builds a worker for taskQueue with everything registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, acts)
	return w
}
