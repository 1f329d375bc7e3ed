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

func bountyResponse(b bounty.Bounty, tokens *chain.TokenTable) api.BountyResponse {
	tok := tokens.Lookup(b.Token)
	resp := api.BountyResponse{Bounty: b, TokenSymbol: tok.Symbol}
	if amt, err := chain.ParseAmount(b.Amount); err == nil {
		resp.AmountDisplay = chain.FormatAmount(amt, tok.Decimals)
	}
	return resp
}

func bountyListResponse(bs []bounty.Bounty, tokens *chain.TokenTable) api.BountyListResponse {
	out := api.BountyListResponse{Bounties: make([]api.BountyResponse, 0, len(bs))}
	for _, b := range bs {
		out.Bounties = append(out.Bounties, bountyResponse(b, tokens))
	}
	return out
}

// pathBountyID reads and normalises the {id} path value.
func pathBountyID(r *http.Request) (string, error) {
	id, err := chain.ParseBountyID(r.PathValue("id"))
	if err != nil {
		return "", err
	}
	return id.Hex(), nil
}

// handleRegisterBounty records a bounty after the sponsor's createBounty
// transaction was mined. The chain is checked, so no auth is needed.
func handleRegisterBounty(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.RegisterBountyRequest
		if err := stools.DecodeJSONBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if _, err := chain.ParseBountyID(req.BountyID); err != nil {
			writeBadRequestError(w, err)
			return
		}
		if req.RepoID <= 0 || req.IssueNumber <= 0 || !strings.Contains(req.RepoFullName, "/") {
			writeBadRequestError(w, fmt.Errorf("repo_id, repo_full_name and issue_number are required"))
			return
		}
		b, err := svc.Intake.RegisterBounty(r.Context(), bounty.RegisterInput{
			Network:      req.Network,
			BountyID:     req.BountyID,
			RepoFullName: req.RepoFullName,
			RepoID:       req.RepoID,
			IssueNumber:  req.IssueNumber,
			TxHash:       req.TxHash,
		})
		switch {
		case err == nil:
		case errors.Is(err, chain.ErrBountyNotFound):
			writeNotFoundError(w)
			return
		case errors.Is(err, bounty.ErrBountyMismatch), bounty.IsNetworkMissing(err):
			writeBadRequestError(w, err)
			return
		default:
			writeInternalError(l, w, err)
			return
		}
		writeJSONResponse(w, bountyResponse(*b, svc.Tokens), http.StatusCreated)
	}
}

func handleGetBounty(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathBountyID(r)
		if err != nil {
			writeBadRequestError(w, err)
			return
		}
		b, err := svc.Ledger.GetBounty(r.Context(), id)
		if errors.Is(err, bounty.ErrNotFound) {
			writeNotFoundError(w)
			return
		}
		if err != nil {
			writeInternalError(l, w, fmt.Errorf("failed to get bounty %s: %w", id, err))
			return
		}
		writeJSONResponse(w, bountyResponse(*b, svc.Tokens), http.StatusOK)
	}
}

func handleListBounties(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := bounty.BountyStatus(r.URL.Query().Get("status"))
		switch status {
		case "", bounty.BountyOpen, bounty.BountyResolved, bounty.BountyRefunded, bounty.BountyCanceled:
		default:
			writeBadRequestError(w, fmt.Errorf("invalid status %q", status))
			return
		}
		bs, err := svc.Ledger.ListBounties(r.Context(), status)
		if err != nil {
			writeInternalError(l, w, fmt.Errorf("failed to list bounties: %w", err))
			return
		}
		writeJSONResponse(w, bountyListResponse(bs, svc.Tokens), http.StatusOK)
	}
}

// handleListRefundable lists a sponsor's open bounties past their deadline.
func handleListRefundable(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sponsor := r.URL.Query().Get("sponsor")
		if _, err := chain.ValidateAddress(sponsor); err != nil {
			writeBadRequestError(w, fmt.Errorf("sponsor: %w", err))
			return
		}
		bs, err := svc.Refunds.ListRefundable(r.Context(), sponsor)
		if err != nil {
			writeInternalError(l, w, err)
			return
		}
		writeJSONResponse(w, bountyListResponse(bs, svc.Tokens), http.StatusOK)
	}
}

func handleRefundEligibility(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathBountyID(r)
		if err != nil {
			writeBadRequestError(w, err)
			return
		}
		caller := r.URL.Query().Get("caller")
		if _, err := chain.ValidateAddress(caller); err != nil {
			writeBadRequestError(w, fmt.Errorf("caller: %w", err))
			return
		}
		el, err := svc.Refunds.CheckEligibility(r.Context(), id, caller)
		if err != nil {
			writeInternalError(l, w, err)
			return
		}
		writeJSONResponse(w, el, http.StatusOK)
	}
}

// handleRefund runs a custodial refund on behalf of the sponsor named in the
// body. Ineligible bounties are answered with 409 and the reason.
func handleRefund(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathBountyID(r)
		if err != nil {
			writeBadRequestError(w, err)
			return
		}
		var req api.RefundRequest
		if err := stools.DecodeJSONBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if _, err := chain.ValidateAddress(req.Caller); err != nil {
			writeBadRequestError(w, fmt.Errorf("caller: %w", err))
			return
		}
		res, err := svc.Refunds.Refund(r.Context(), id, req.Caller)
		if err != nil {
			writeInternalError(l, w, err)
			return
		}
		if !res.Eligible {
			writeJSONResponse(w, res, http.StatusConflict)
			return
		}
		writeJSONResponse(w, res, http.StatusOK)
	}
}

// handleRecordRefund marks a bounty refunded after the sponsor called
// refundExpired from their own wallet.
func handleRecordRefund(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathBountyID(r)
		if err != nil {
			writeBadRequestError(w, err)
			return
		}
		var req api.RecordRefundRequest
		if err := stools.DecodeJSONBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		b, err := svc.Refunds.RecordRefund(r.Context(), id, req.TxHash)
		switch {
		case err == nil:
			writeJSONResponse(w, bountyResponse(*b, svc.Tokens), http.StatusOK)
		case errors.Is(err, bounty.ErrNotFound), errors.Is(err, chain.ErrBountyNotFound):
			writeNotFoundError(w)
		case errors.Is(err, bounty.ErrNotRefunded):
			writeConflictError(w, err)
		default:
			writeInternalError(l, w, err)
		}
	}
}

func handleStats(l *slog.Logger, svc Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sponsor := r.URL.Query().Get("sponsor")
		if sponsor != "" {
			if _, err := chain.ValidateAddress(sponsor); err != nil {
				writeBadRequestError(w, fmt.Errorf("sponsor: %w", err))
				return
			}
		}
		stats, err := bounty.LedgerStats(r.Context(), svc.Ledger, svc.Tokens, sponsor)
		if err != nil {
			writeInternalError(l, w, err)
			return
		}
		writeJSONResponse(w, stats, http.StatusOK)
	}
}
