package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/docversions/internal/models"
)

// Dispatcher hands a pending version to its background task. Dispatch must
// not wait for generation to finish.
type Dispatcher interface {
	Dispatch(ctx context.Context, versionID string) error
}

// Runner runs the background task of one version.
type Runner interface {
	Run(ctx context.Context, req models.RunVersionRequest) (*models.RunVersionResponse, error)
}

// InlineDispatcher runs background tasks as goroutines of this process.
type InlineDispatcher struct {
	runner Runner
	wg     sync.WaitGroup
}

// NewInlineDispatcher creates a dispatcher running tasks on runner.
func NewInlineDispatcher(runner Runner) *InlineDispatcher {
	return &InlineDispatcher{runner: runner}
}

// Dispatch starts the task on a context detached from the request, so the
// task outlives the response.
func (d *InlineDispatcher) Dispatch(ctx context.Context, versionID string) error {
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.runner.Run(bg, models.RunVersionRequest{VersionID: versionID}); err != nil {
			slog.Error("Background version task failed.", "versionId", versionID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched task has returned.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

// WorkflowDispatcher starts a Cloud Workflows execution per version. The
// workflow calls the version worker with its argument.
type WorkflowDispatcher struct {
	client *executions.Client
	parent string
}

// NewWorkflowDispatcher creates a dispatcher for the given workflow.
func NewWorkflowDispatcher(client *executions.Client, projectID, location, workflowID string) *WorkflowDispatcher {
	return &WorkflowDispatcher{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

func (d *WorkflowDispatcher) Dispatch(ctx context.Context, versionID string) error {
	payload, err := json.Marshal(models.RunVersionRequest{VersionID: versionID})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := d.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    d.parent,
		Execution: &executionspb.Execution{Argument: string(payload)},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started.", "versionId", versionID, "execution", exec.GetName())
	return nil
}
