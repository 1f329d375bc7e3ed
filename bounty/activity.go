package bounty

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"os"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Environment variables read by activities.
const (
	EnvEmailSMTPHost    = "EMAIL_SMTP_HOST"
	EnvEmailSMTPPort    = "EMAIL_SMTP_PORT"
	EnvEmailSender      = "EMAIL_SENDER"
	EnvEmailPassword    = "EMAIL_PASSWORD"
	EnvMaintainerEmails = "MAINTAINER_EMAILS"
)

// Commenter publishes an event as a GitHub comment and returns the comment id.
type Commenter interface {
	PublishEvent(ctx context.Context, e Event) (int64, error)
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Activities holds the dependencies of the notification and reconciliation
// activities.
type Activities struct {
	comments   Commenter
	ledger     Ledger
	reconciler *Reconciler
	sendMail   sendMailFunc
}

// NewActivities returns the activity set. comments may be nil when no GitHub
// credentials are configured; comment delivery then fails without retry.
func NewActivities(comments Commenter, ledger Ledger, reconciler *Reconciler) *Activities {
	return &Activities{
		comments:   comments,
		ledger:     ledger,
		reconciler: reconciler,
		sendMail:   smtp.SendMail,
	}
}

type smtpConfig struct {
	host, port, sender, password string
}

func getSMTPConfig() (smtpConfig, error) {
	cfg := smtpConfig{
		host:     os.Getenv(EnvEmailSMTPHost),
		port:     os.Getenv(EnvEmailSMTPPort),
		sender:   os.Getenv(EnvEmailSender),
		password: os.Getenv(EnvEmailPassword),
	}
	for name, v := range map[string]string{
		EnvEmailSMTPHost: cfg.host,
		EnvEmailSMTPPort: cfg.port,
		EnvEmailSender:   cfg.sender,
		EnvEmailPassword: cfg.password,
	} {
		if v == "" {
			return cfg, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("%s environment variable not set", name), "CONFIGURATION_ERROR", nil)
		}
	}
	return cfg, nil
}

func (a *Activities) send(cfg smtpConfig, to []string, subject, body string) error {
	auth := smtp.PlainAuth("", cfg.sender, cfg.password, cfg.host)
	msg := []byte("To: " + strings.Join(to, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" +
		body + "\r\n")
	if err := a.sendMail(cfg.host+":"+cfg.port, auth, cfg.sender, to, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// PostEventComment publishes the event on the PR or the bounty's issue.
func (a *Activities) PostEventComment(ctx context.Context, e Event) (int64, error) {
	logger := activity.GetLogger(ctx)
	if a.comments == nil {
		return 0, temporal.NewNonRetryableApplicationError("github commenter not configured", "CONFIGURATION_ERROR", nil)
	}
	id, err := a.comments.PublishEvent(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("failed to publish %s comment: %w", e.Kind, err)
	}
	logger.Info("Published event comment", "kind", e.Kind, "repo", e.RepoFullName, "comment_id", id)
	return id, nil
}

// PinBountyComment records the issue comment that tracks a bounty.
func (a *Activities) PinBountyComment(ctx context.Context, bountyID string, commentID int64) error {
	if err := a.ledger.SetPinnedComment(ctx, bountyID, commentID); err != nil {
		return fmt.Errorf("failed to pin comment %d on bounty %s: %w", commentID, bountyID, err)
	}
	return nil
}

// SendEventEmail emails the contributor the event is about. Events without a
// known recipient are dropped.
func (a *Activities) SendEventEmail(ctx context.Context, e Event) error {
	logger := activity.GetLogger(ctx)
	kind := e.EmailKind()
	if kind == EmailNone || e.GithubID == 0 {
		return nil
	}
	user, err := a.ledger.FindUserByGithubID(ctx, e.GithubID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Info("No email on file", "github_id", e.GithubID, "kind", kind)
			return nil
		}
		return fmt.Errorf("failed to look up user %d: %w", e.GithubID, err)
	}
	if user.Email == "" {
		return nil
	}
	cfg, err := getSMTPConfig()
	if err != nil {
		return err
	}
	subject, body := emailContent(kind, e)
	if err := a.send(cfg, []string{user.Email}, subject, body); err != nil {
		return err
	}
	logger.Info("Sent event email", "kind", kind, "github_id", e.GithubID)
	return nil
}

func emailContent(kind EmailKind, e Event) (string, string) {
	ref := fmt.Sprintf("%s#%d", e.RepoFullName, e.IssueNumber)
	amount := strings.TrimSpace(e.AmountDisplay + " " + e.TokenSymbol)
	switch kind {
	case EmailBountyPaid:
		return "Bounty paid: " + ref,
			fmt.Sprintf("You were paid %s for %s (PR #%d).\nTransaction: %s", amount, ref, e.PRNumber, e.TxHash)
	case EmailBountyExpired:
		return "Bounty refunded: " + ref,
			fmt.Sprintf("The %s bounty on %s was refunded to the sponsor.\nTransaction: %s", amount, ref, e.TxHash)
	case EmailPROpened:
		return "Pull request linked: " + ref,
			fmt.Sprintf("PR #%d is linked to the %s bounty on %s.", e.PRNumber, amount, ref)
	default:
		return "Action needed: " + ref,
			fmt.Sprintf("The %s bounty on %s could not be paid for PR #%d (%s).", amount, ref, e.PRNumber, e.Kind)
	}
}

// NotifyMaintainers emails an escalation to the configured maintainers.
func (a *Activities) NotifyMaintainers(ctx context.Context, e Escalation) error {
	logger := activity.GetLogger(ctx)
	var to []string
	for _, addr := range strings.Split(os.Getenv(EnvMaintainerEmails), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		return temporal.NewNonRetryableApplicationError(
			EnvMaintainerEmails+" environment variable not set", "CONFIGURATION_ERROR", nil)
	}
	cfg, err := getSMTPConfig()
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Severity: %s\nError: %s\nMessage: %s\n", e.Severity, e.ErrorType, e.Message)
	fmt.Fprintf(&b, "Bounty: %s\nNetwork: %s\nRecipient: %s\nPR: %d\nUser: %s\n",
		e.BountyID, e.Network, e.RecipientAddress, e.PRNumber, e.Username)
	for k, v := range e.Context {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Severity)), e.ErrorType)
	if err := a.send(cfg, to, subject, b.String()); err != nil {
		return err
	}
	logger.Info("Escalation sent", "error_type", e.ErrorType, "severity", e.Severity, "recipients", len(to))
	return nil
}

// ReconcileOpenBounties reconciles every open ledger bounty, heartbeating
// after each one.
func (a *Activities) ReconcileOpenBounties(ctx context.Context) (ReconcileSummary, error) {
	logger := activity.GetLogger(ctx)
	var summary ReconcileSummary
	if a.reconciler == nil {
		return summary, temporal.NewNonRetryableApplicationError("reconciler not configured", "CONFIGURATION_ERROR", nil)
	}
	open, err := a.ledger.ListBounties(ctx, BountyOpen)
	if err != nil {
		return summary, fmt.Errorf("failed to list open bounties: %w", err)
	}
	for _, b := range open {
		activity.RecordHeartbeat(ctx, b.ID)
		summary.Checked++
		res, err := a.reconciler.ReconcileBounty(ctx, b.ID)
		if err != nil {
			logger.Warn("Failed to reconcile bounty", "bounty_id", b.ID, "error", err)
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		if res.Changed {
			summary.Changed++
		}
	}
	return summary, nil
}
