package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v63/github"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/http/api"
)

// handleGitHubWebhook verifies the X-Hub-Signature-256 header and routes
// issue and pull request deliveries to intake and settlement. Deliveries
// that need no action are acknowledged with 200 so GitHub does not flag them.
func handleGitHubWebhook(l *slog.Logger, getSecret func() string, intake *bounty.Intake, settlement *bounty.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := github.ValidatePayload(r, []byte(getSecret()))
		if err != nil {
			l.Warn("Invalid webhook signature received", "error", err)
			writeBadRequestError(w, fmt.Errorf("invalid webhook signature"))
			return
		}
		eventType := github.WebHookType(r)
		delivery := github.DeliveryID(r)
		event, err := github.ParseWebHook(eventType, payload)
		if err != nil {
			writeBadRequestError(w, fmt.Errorf("could not parse %q webhook: %w", eventType, err))
			return
		}
		resp := api.WebhookResponse{Event: eventType, Delivery: delivery}
		ctx := r.Context()
		logger := l.With("event", eventType, "delivery", delivery)

		switch e := event.(type) {
		case *github.PingEvent:
			resp.Message = "pong"

		case *github.IssuesEvent:
			resp.Action = e.GetAction()
			if e.GetAction() != "opened" {
				resp.Message = "ignored"
				break
			}
			err := intake.HandleIssueOpened(ctx, bounty.IssueEvent{
				RepoID:       e.GetRepo().GetID(),
				RepoFullName: e.GetRepo().GetFullName(),
				IssueNumber:  e.GetIssue().GetNumber(),
			})
			if err != nil {
				writeInternalError(logger, w, err)
				return
			}

		case *github.PullRequestEvent:
			resp.Action = e.GetAction()
			pr := e.GetPullRequest()
			switch e.GetAction() {
			case "opened", "edited", "reopened":
				res, err := intake.HandlePullRequest(ctx, bounty.PullRequestEvent{
					RepoID:         e.GetRepo().GetID(),
					RepoFullName:   e.GetRepo().GetFullName(),
					PRNumber:       pr.GetNumber(),
					Title:          pr.GetTitle(),
					Body:           pr.GetBody(),
					AuthorGithubID: pr.GetUser().GetID(),
					AuthorLogin:    pr.GetUser().GetLogin(),
				})
				if err != nil {
					writeInternalError(logger, w, err)
					return
				}
				resp.Claims = len(res.Created)
			case "closed":
				if !pr.GetMerged() {
					resp.Message = "closed without merge"
					break
				}
				results, err := settlement.HandleMerge(ctx, bounty.MergeEvent{
					RepoID:         e.GetRepo().GetID(),
					RepoFullName:   e.GetRepo().GetFullName(),
					PRNumber:       pr.GetNumber(),
					AuthorGithubID: pr.GetUser().GetID(),
					AuthorLogin:    pr.GetUser().GetLogin(),
				})
				resp.Settled = results
				if err != nil {
					logger.Error("merge settlement finished with errors", "repo", e.GetRepo().GetFullName(), "pr", pr.GetNumber(), "error", err)
					writeJSONResponse(w, resp, http.StatusInternalServerError)
					return
				}
			default:
				resp.Message = "ignored"
			}

		default:
			resp.Message = "ignored"
		}
		writeJSONResponse(w, resp, http.StatusOK)
	}
}
