package api

import "github.com/brojonat/bountypay/bounty"

type DefaultJSONResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type RegisterBountyRequest struct {
	Network      string `json:"network"`
	BountyID     string `json:"bounty_id"`
	RepoFullName string `json:"repo_full_name"`
	RepoID       int64  `json:"repo_id"`
	IssueNumber  int    `json:"issue_number"`
	TxHash       string `json:"tx_hash"`
}

// BountyResponse is a ledger bounty with its display amount.
type BountyResponse struct {
	bounty.Bounty
	AmountDisplay string `json:"amount_display"`
	TokenSymbol   string `json:"token_symbol,omitempty"`
}

type BountyListResponse struct {
	Bounties []BountyResponse `json:"bounties"`
}

type RefundRequest struct {
	Caller string `json:"caller"`
}

type RecordRefundRequest struct {
	TxHash string `json:"tx_hash"`
}

type ReplayRequest struct {
	RepoFullName string `json:"repo_full_name"`
	PRNumber     int    `json:"pr_number"`
}

type SettlementResponse struct {
	Results []bounty.SettlementResult `json:"results"`
	Error   string                    `json:"error,omitempty"`
}

type ReconcileRequest struct {
	BountyID string `json:"bounty_id,omitempty"`
}

type ReconcileResponse struct {
	Results []bounty.ReconcileResult `json:"results"`
	Error   string                   `json:"error,omitempty"`
}

type WalletRequest struct {
	GithubID       int64  `json:"github_id"`
	GithubUsername string `json:"github_username"`
	WalletAddress  string `json:"wallet_address"`
	Email          string `json:"email,omitempty"`
}

type WebhookResponse struct {
	Event    string                    `json:"event"`
	Action   string                    `json:"action,omitempty"`
	Message  string                    `json:"message,omitempty"`
	Claims   int                       `json:"claims,omitempty"`
	Settled  []bounty.SettlementResult `json:"settled,omitempty"`
	Delivery string                    `json:"delivery,omitempty"`
}
