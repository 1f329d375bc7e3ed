package bounty

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// TemporalNotifier delivers events and escalations as Temporal workflows.
// The workflow id is derived from the event key, so a redelivered webhook
// that emits the same event starts nothing new.
type TemporalNotifier struct {
	client    client.Client
	taskQueue string
}

// NewTemporalNotifier returns a Notifier backed by tc.
func NewTemporalNotifier(tc client.Client, taskQueue string) *TemporalNotifier {
	return &TemporalNotifier{client: tc, taskQueue: taskQueue}
}

// Notify starts DeliverEventWorkflow for e.
func (n *TemporalNotifier) Notify(ctx context.Context, e Event) error {
	return n.start(ctx, "event-"+e.Key(), DeliverEventWorkflow, e)
}

// Escalate starts EscalateWorkflow for e.
func (n *TemporalNotifier) Escalate(ctx context.Context, e Escalation) error {
	return n.start(ctx, "escalation-"+e.Key(), EscalateWorkflow, e)
}

func (n *TemporalNotifier) start(ctx context.Context, id string, wf interface{}, arg interface{}) error {
	_, err := n.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                n.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, wf, arg)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start workflow %s: %w", id, err)
	}
	return nil
}
