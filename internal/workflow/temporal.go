package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// TemporalConfig locates the Temporal frontend.
type TemporalConfig struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Temporal starts IngestWorkflow executions on a Temporal cluster.
type Temporal struct {
	client    client.Client
	taskQueue string
	logger    *zap.Logger
}

// DialTemporal connects to the cluster described by cfg.
func DialTemporal(cfg TemporalConfig, logger *zap.Logger) (*Temporal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger.Named("temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.HostPort, err)
	}
	return NewTemporal(c, cfg.TaskQueue, logger), nil
}

// NewTemporal wraps an existing client.
func NewTemporal(c client.Client, taskQueue string, logger *zap.Logger) *Temporal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Temporal{client: c, taskQueue: taskQueue, logger: logger}
}

// SDK returns the underlying client, used to start a worker.
func (t *Temporal) SDK() client.Client {
	return t.client
}

// TaskQueue is the queue workflows are started on.
func (t *Temporal) TaskQueue() string {
	return t.taskQueue
}

// StartIngest starts the workflow and returns without waiting for it.
func (t *Temporal) StartIngest(ctx context.Context, req IngestRequest) (Run, error) {
	if req.SessionID == "" {
		return Run{}, errors.New("workflow: session id is required")
	}
	opts := client.StartWorkflowOptions{
		ID:        workflowID(req),
		TaskQueue: t.taskQueue,
	}
	run, err := t.client.ExecuteWorkflow(ctx, opts, IngestWorkflowName, req)
	if err != nil {
		return Run{}, fmt.Errorf("start ingest workflow: %w", err)
	}
	t.logger.Info("ingest workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.Int("urls", len(req.URLs)),
	)
	return Run{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

// Close closes the client.
func (t *Temporal) Close() {
	t.client.Close()
}
