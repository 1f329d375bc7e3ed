package bounty

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueueName is the default task queue for all workflows.
const TaskQueueName = "bountypay"

func deliveryOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
}

// DeliverEventWorkflow posts the GitHub comment for an event and sends the
// matching email. A payment also rewrites the pinned bounty comment. The
// deliveries are independent: a failed comment does not stop the email.
func DeliverEventWorkflow(ctx workflow.Context, e Event) error {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, deliveryOptions())

	var a *Activities
	var errs []error

	var commentID int64
	if err := workflow.ExecuteActivity(ctx, a.PostEventComment, e).Get(ctx, &commentID); err != nil {
		logger.Error("Failed to post event comment", "kind", e.Kind, "error", err)
		errs = append(errs, err)
	} else if e.Kind == EventBountyCreated && commentID != 0 && e.PinnedCommentID == 0 {
		if err := workflow.ExecuteActivity(ctx, a.PinBountyComment, e.BountyID, commentID).Get(ctx, nil); err != nil {
			logger.Error("Failed to pin bounty comment", "bounty_id", e.BountyID, "error", err)
			errs = append(errs, err)
		}
	}

	if pinned, ok := e.PinnedUpdate(); ok {
		if err := workflow.ExecuteActivity(ctx, a.PostEventComment, pinned).Get(ctx, nil); err != nil {
			logger.Error("Failed to update pinned bounty comment", "bounty_id", e.BountyID, "error", err)
			errs = append(errs, err)
		}
	}

	if e.EmailKind() != EmailNone {
		if err := workflow.ExecuteActivity(ctx, a.SendEventEmail, e).Get(ctx, nil); err != nil {
			logger.Error("Failed to send event email", "kind", e.Kind, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EscalateWorkflow tells maintainers about a failure.
func EscalateWorkflow(ctx workflow.Context, e Escalation) error {
	ctx = workflow.WithActivityOptions(ctx, deliveryOptions())
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.NotifyMaintainers, e).Get(ctx, nil)
}

// ReconcileSummary is the result of one reconciliation sweep.
type ReconcileSummary struct {
	Checked int      `json:"checked"`
	Changed int      `json:"changed"`
	Errors  []string `json:"errors,omitempty"`
}

// ReconcileBountiesWorkflow runs one reconciliation sweep. It is started by a
// Temporal schedule.
func ReconcileBountiesWorkflow(ctx workflow.Context) (ReconcileSummary, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	var a *Activities
	var summary ReconcileSummary
	err := workflow.ExecuteActivity(ctx, a.ReconcileOpenBounties).Get(ctx, &summary)
	if err != nil {
		return summary, err
	}
	workflow.GetLogger(ctx).Info("Reconciliation finished", "checked", summary.Checked, "changed", summary.Changed, "errors", len(summary.Errors))
	return summary, nil
}
