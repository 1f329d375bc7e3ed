package bounty

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/google/go-github/v63/github"
)

var commentFuncs = template.FuncMap{
	"amount": func(e Event) string {
		return strings.TrimSpace(e.AmountDisplay + " " + e.TokenSymbol)
	},
	"deadline": func(unix int64) string {
		return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04 UTC")
	},
	"issues": func(ns []int) string {
		refs := make([]string, len(ns))
		for i, n := range ns {
			refs[i] = "#" + strconv.Itoa(n)
		}
		return strings.Join(refs, ", ")
	},
}

var commentTemplates = map[EventKind]*template.Template{}

func init() {
	for kind, text := range map[EventKind]string{
		EventBountyCreated: `**Bounty: {{amount .}}** on {{.Network}}

Open a pull request that references this issue (for example ` + "`Fixes #{{.IssueNumber}}`" + `) to claim it.{{if .Deadline}} The sponsor can reclaim the funds after {{deadline .Deadline}}.{{end}}

<sub>bounty {{.BountyID}}</sub>`,
		EventPrLinked: `Pull request #{{.PRNumber}} by @{{.Username}} is linked to this {{amount .}} bounty.`,
		EventPrReady: `@{{.Username}} this pull request is linked to the {{amount .}} bounty on #{{.IssueNumber}}. ` +
			"The payout goes to `{{.WalletAddress}}` once it is merged.",
		EventWalletRequired: `@{{.Username}} this pull request is linked to the {{amount .}} bounty on #{{.IssueNumber}}, ` +
			`but there is no payout wallet for your account yet. Link one so the bounty can be paid when this is merged.`,
		EventWalletInvalid: `@{{.Username}} the payout wallet on file for your account is not a valid address, ` +
			`so the bounty on #{{.IssueNumber}} was not paid. Update it and ask a maintainer to replay the payout.`,
		EventPaymentSent: `Paid {{amount .}} to @{{.Username}} for #{{.IssueNumber}}.

Wallet: ` + "`{{.WalletAddress}}`" + `
Transaction: ` + "`{{.TxHash}}`",
		EventPaymentFailed: `The {{amount .}} payout for #{{.IssueNumber}} could not be sent ({{.Reason}}). ` +
			`{{if .Retryable}}This looks temporary; a maintainer can replay it.{{else}}The maintainers have been notified.{{end}}`,
		EventBountyResolved: `**Bounty paid: {{amount .}}** on {{.Network}}{{if .PRNumber}}

Paid to @{{.Username}} for #{{.PRNumber}}.{{end}}{{if .TxHash}}

Transaction: ` + "`{{.TxHash}}`" + `{{end}}

<sub>bounty {{.BountyID}}</sub>`,
		EventBountyRefunded: `**Bounty refunded: {{amount .}}** returned to the sponsor after the deadline.{{if .TxHash}}

Transaction: ` + "`{{.TxHash}}`" + `{{end}}

<sub>bounty {{.BountyID}}</sub>`,
		EventOpenBounties: `@{{.Username}} this repository has several open bounties ({{issues .OpenIssues}}). ` +
			"Reference the issue this pull request solves, for example `Fixes #N`, so it can be linked.",
	} {
		commentTemplates[kind] = template.Must(template.New(string(kind)).Funcs(commentFuncs).Parse(text))
	}
}

// RenderComment renders the Markdown body of the comment for e.
func RenderComment(e Event) (string, error) {
	t, ok := commentTemplates[e.Kind]
	if !ok {
		return "", fmt.Errorf("no comment template for %s", e.Kind)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, e); err != nil {
		return "", fmt.Errorf("failed to render %s comment: %w", e.Kind, err)
	}
	return buf.String(), nil
}

// GitHubCommenter publishes events as issue and pull request comments.
type GitHubCommenter struct {
	client *github.Client
}

// NewGitHubCommenter returns a commenter authenticated with token. A nil
// httpClient uses http.DefaultClient.
func NewGitHubCommenter(token string, httpClient *http.Client) *GitHubCommenter {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubCommenter{client: client}
}

// PublishEvent comments on the PR or the issue the event is about. Bounty
// status events edit the pinned bounty comment when there is one.
func (g *GitHubCommenter) PublishEvent(ctx context.Context, e Event) (int64, error) {
	owner, repo, ok := strings.Cut(e.RepoFullName, "/")
	if !ok || owner == "" || repo == "" {
		return 0, fmt.Errorf("invalid repository name %q", e.RepoFullName)
	}
	body, err := RenderComment(e)
	if err != nil {
		return 0, err
	}

	switch e.Kind {
	case EventBountyCreated, EventBountyResolved, EventBountyRefunded:
		if e.PinnedCommentID != 0 {
			c, _, err := g.client.Issues.EditComment(ctx, owner, repo, e.PinnedCommentID, &github.IssueComment{Body: &body})
			if err != nil {
				return 0, fmt.Errorf("failed to edit comment %d: %w", e.PinnedCommentID, err)
			}
			return c.GetID(), nil
		}
	}

	number := e.IssueNumber
	if e.OnPullRequest() {
		number = e.PRNumber
	}
	if number == 0 {
		return 0, fmt.Errorf("%s event for %s has no issue or pull request number", e.Kind, e.RepoFullName)
	}
	c, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
	if err != nil {
		return 0, fmt.Errorf("failed to comment on %s#%d: %w", e.RepoFullName, number, err)
	}
	return c.GetID(), nil
}
