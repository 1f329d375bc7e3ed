package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/chain"
	"github.com/brojonat/bountypay/http/api"
	"github.com/brojonat/bountypay/internal/stools"
)

// handleReplay re-runs settlement for a merged PR. Failed claims are retried.
// Partial failures are reported in the error field next to the results.
func handleReplay(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ReplayRequest
		if err := stools.DecodeJSONBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if !strings.Contains(req.RepoFullName, "/") || req.PRNumber <= 0 {
			writeBadRequestError(w, fmt.Errorf("repo_full_name and pr_number are required"))
			return
		}
		results, err := svc.Settlement.ReplayPullRequest(r.Context(), req.RepoFullName, req.PRNumber)
		resp := api.SettlementResponse{Results: results}
		if err != nil {
			l.Error("replay finished with errors", "repo", req.RepoFullName, "pr", req.PRNumber, "error", err)
			resp.Error = err.Error()
			writeJSONResponse(w, resp, http.StatusInternalServerError)
			return
		}
		writeJSONResponse(w, resp, http.StatusOK)
	}
}

// handleReconcile reconciles one bounty, or every open bounty when the body
// names none.
func handleReconcile(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.ReconcileRequest
		if err := stools.DecodeOptionalJSONBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		var resp api.ReconcileResponse
		if req.BountyID != "" {
			id, err := chain.ParseBountyID(req.BountyID)
			if err != nil {
				writeBadRequestError(w, err)
				return
			}
			res, err := svc.Reconciler.ReconcileBounty(r.Context(), id.Hex())
			if errors.Is(err, bounty.ErrNotFound) {
				writeNotFoundError(w)
				return
			}
			if err != nil {
				writeInternalError(l, w, err)
				return
			}
			resp.Results = []bounty.ReconcileResult{res}
			writeJSONResponse(w, resp, http.StatusOK)
			return
		}

		results, err := svc.Reconciler.ReconcileOpen(r.Context())
		resp.Results = results
		if err != nil {
			l.Error("reconcile finished with errors", "error", err)
			resp.Error = err.Error()
			writeJSONResponse(w, resp, http.StatusInternalServerError)
			return
		}
		writeJSONResponse(w, resp, http.StatusOK)
	}
}

// handlePutWallet links a GitHub account to a payout wallet, and stores the
// contact email when given.
func handlePutWallet(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.WalletRequest
		if err := stools.DecodeJSONBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if req.GithubID <= 0 || req.GithubUsername == "" {
			writeBadRequestError(w, fmt.Errorf("github_id and github_username are required"))
			return
		}
		if _, err := chain.ValidateAddress(req.WalletAddress); err != nil {
			writeBadRequestError(w, fmt.Errorf("wallet_address: %w", err))
			return
		}
		ctx := r.Context()
		if err := svc.Ledger.UpsertWallet(ctx, bounty.Wallet{
			GithubID:       req.GithubID,
			GithubUsername: req.GithubUsername,
			WalletAddress:  req.WalletAddress,
		}); err != nil {
			writeInternalError(l, w, fmt.Errorf("failed to store wallet for %d: %w", req.GithubID, err))
			return
		}
		if req.Email != "" {
			if err := svc.Ledger.UpsertUser(ctx, bounty.User{
				GithubID:       req.GithubID,
				GithubUsername: req.GithubUsername,
				Email:          req.Email,
			}); err != nil {
				writeInternalError(l, w, fmt.Errorf("failed to store user %d: %w", req.GithubID, err))
				return
			}
		}
		l.Info("wallet linked", "github_id", req.GithubID, "github_username", req.GithubUsername)
		writeOK(w)
	}
}
