package worker

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/chain"
	"github.com/brojonat/bountypay/internal/config"
)

// RunWorker serves the notification and reconciliation workflows on the
// configured task queue until interrupted.
func RunWorker(ctx context.Context, l *slog.Logger, cfg *config.Config, thp, tns string) error {
	if cfg.TaskQueue == "" {
		return fmt.Errorf("TASK_QUEUE not set")
	}

	c, err := client.Dial(client.Options{
		Logger:    l,
		HostPort:  thp,
		Namespace: tns,
	})
	if err != nil {
		return fmt.Errorf("couldn't initialize temporal client: %w", err)
	}
	defer c.Close()

	activities, closeLedger, err := newActivities(ctx, l, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	register(w, activities)

	l.Info("Starting worker", "TaskQueue", cfg.TaskQueue)
	err = w.Run(worker.InterruptCh())
	l.Info("Worker stopped")
	return err
}

// newActivities builds the activity dependencies from cfg. Without a GitHub
// token the comment activities fail without retry, and without a signer key
// reconciliation still works since it only reads the chain.
func newActivities(ctx context.Context, l *slog.Logger, cfg *config.Config) (*bounty.Activities, func() error, error) {
	networks, tokens, err := cfg.Networks()
	if err != nil {
		return nil, nil, fmt.Errorf("worker startup error: %w", err)
	}
	ledger, closeLedger, err := cfg.OpenLedger(ctx, l)
	if err != nil {
		return nil, nil, fmt.Errorf("worker startup error: %w", err)
	}
	reconciler := bounty.NewReconciler(bounty.Deps{
		Ledger:   ledger,
		Chain:    chain.NewGateway(networks, nil, l),
		Networks: networks,
		Tokens:   tokens,
		Logger:   l,
	})

	var comments bounty.Commenter
	if cfg.GitHubToken != "" {
		comments = bounty.NewGitHubCommenter(cfg.GitHubToken, nil)
	} else {
		l.Warn("GITHUB_TOKEN not set, comment delivery is disabled")
	}
	return bounty.NewActivities(comments, ledger, reconciler), closeLedger, nil
}

type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

func register(w registry, a *bounty.Activities) {
	w.RegisterWorkflow(bounty.DeliverEventWorkflow)
	w.RegisterWorkflow(bounty.EscalateWorkflow)
	w.RegisterWorkflow(bounty.ReconcileBountiesWorkflow)

	w.RegisterActivity(a.PostEventComment)
	w.RegisterActivity(a.PinBountyComment)
	w.RegisterActivity(a.SendEventEmail)
	w.RegisterActivity(a.NotifyMaintainers)
	w.RegisterActivity(a.ReconcileOpenBounties)
}

// CheckConnection dials Temporal and checks the frontend health endpoint.
func CheckConnection(ctx context.Context, l *slog.Logger, thp, tns string) error {
	c, err := client.Dial(client.Options{
		Logger:    l,
		HostPort:  thp,
		Namespace: tns,
	})
	if err != nil {
		return fmt.Errorf("couldn't initialize temporal client: %w", err)
	}
	defer c.Close()

	if _, err := c.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return fmt.Errorf("temporal health check failed: %w", err)
	}
	l.Info("Temporal connection healthy", "host", thp, "namespace", tns)
	return nil
}
