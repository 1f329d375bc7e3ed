package bounty

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// EventKind is a lifecycle event the notification side renders.
type EventKind string

const (
	EventBountyCreated  EventKind = "BountyCreated"
	EventPrLinked       EventKind = "PrLinked"
	EventPrReady        EventKind = "PrReady"
	EventWalletRequired EventKind = "WalletRequired"
	EventWalletInvalid  EventKind = "WalletInvalid"
	EventPaymentSent    EventKind = "PaymentSent"
	EventPaymentFailed  EventKind = "PaymentFailed"
	EventBountyResolved EventKind = "BountyResolved"
	EventBountyRefunded EventKind = "BountyRefunded"
	EventOpenBounties   EventKind = "OpenBounties"
)

// EmailKind is the email template an event maps to.
type EmailKind string

const (
	EmailNone          EmailKind = ""
	EmailBountyPaid    EmailKind = "bountyPaid"
	EmailBountyExpired EmailKind = "bountyExpired"
	EmailPROpened      EmailKind = "prOpened"
	EmailUserError     EmailKind = "userError"
)

// Event carries the data a comment or email template needs. It holds no markup.
type Event struct {
	Kind            EventKind `json:"kind"`
	RepoFullName    string    `json:"repo_full_name"`
	RepoID          int64     `json:"repo_id,omitempty"`
	IssueNumber     int       `json:"issue_number,omitempty"`
	PRNumber        int       `json:"pr_number,omitempty"`
	BountyID        string    `json:"bounty_id,omitempty"`
	Network         string    `json:"network,omitempty"`
	Amount          string    `json:"amount,omitempty"`
	AmountDisplay   string    `json:"amount_display,omitempty"`
	TokenSymbol     string    `json:"token_symbol,omitempty"`
	TokenAddress    string    `json:"token_address,omitempty"`
	TxHash          string    `json:"tx_hash,omitempty"`
	Username        string    `json:"username,omitempty"`
	GithubID        int64     `json:"github_id,omitempty"`
	WalletAddress   string    `json:"wallet_address,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Retryable       bool      `json:"retryable,omitempty"`
	Deadline        int64     `json:"deadline,omitempty"`
	PinnedCommentID int64     `json:"pinned_comment_id,omitempty"`
	OpenIssues      []int     `json:"open_issues,omitempty"`
}

// Key identifies an event for delivery deduplication. Redelivered webhooks
// produce the same key.
func (e Event) Key() string {
	parts := []string{string(e.Kind), e.RepoFullName}
	if e.BountyID != "" {
		parts = append(parts, e.BountyID)
	}
	if e.PRNumber != 0 {
		parts = append(parts, "pr"+strconv.Itoa(e.PRNumber))
	}
	if e.TxHash != "" {
		parts = append(parts, e.TxHash)
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	return strings.ToLower(strings.Join(parts, ":"))
}

// OnPullRequest reports whether the event is commented on the PR rather than
// on the bounty's issue.
func (e Event) OnPullRequest() bool {
	switch e.Kind {
	case EventPrReady, EventWalletRequired, EventWalletInvalid, EventPaymentSent, EventPaymentFailed, EventOpenBounties:
		return e.PRNumber != 0
	}
	return false
}

// PinnedUpdate returns the bounty status event a payment implies for the
// pinned bounty comment. Only a PaymentSent event with a pinned comment has one.
func (e Event) PinnedUpdate() (Event, bool) {
	if e.Kind != EventPaymentSent || e.PinnedCommentID == 0 {
		return Event{}, false
	}
	u := e
	u.Kind = EventBountyResolved
	return u, true
}

// EmailKind returns the email to send for this event, if any.
func (e Event) EmailKind() EmailKind {
	switch e.Kind {
	case EventPaymentSent:
		return EmailBountyPaid
	case EventBountyRefunded:
		return EmailBountyExpired
	case EventPrLinked:
		return EmailPROpened
	case EventWalletRequired, EventWalletInvalid, EventPaymentFailed:
		return EmailUserError
	}
	return EmailNone
}

// Escalation is the structured payload sent to maintainers.
type Escalation struct {
	ErrorType        ErrorKind         `json:"error_type"`
	Message          string            `json:"message"`
	Severity         Severity          `json:"severity"`
	BountyID         string            `json:"bounty_id,omitempty"`
	Network          string            `json:"network,omitempty"`
	RecipientAddress string            `json:"recipient_address,omitempty"`
	PRNumber         int               `json:"pr_number,omitempty"`
	Username         string            `json:"username,omitempty"`
	Context          map[string]string `json:"context,omitempty"`
}

// Key identifies an escalation for delivery deduplication.
func (e Escalation) Key() string {
	name := fmt.Sprintf("%s:%s:%d:%s", e.ErrorType, e.BountyID, e.PRNumber, e.Message)
	return string(e.ErrorType) + "-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Notifier delivers lifecycle events and maintainer escalations.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Escalate(ctx context.Context, e Escalation) error
}
