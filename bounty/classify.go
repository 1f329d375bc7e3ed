package bounty

import "strings"

// ErrorKind names a settlement failure bucket.
type ErrorKind string

const (
	KindNotOpen           ErrorKind = "not-open"
	KindPaused            ErrorKind = "paused"
	KindInsufficientFunds ErrorKind = "insufficient-funds"
	KindDeadlinePassed    ErrorKind = "deadline-passed"
	KindRPCFailure        ErrorKind = "rpc-failure"
	KindGasEstimation     ErrorKind = "gas-estimation"
	KindInvalidRecipient  ErrorKind = "invalid-recipient"
	KindMissingContract   ErrorKind = "missing-contract"
	KindUnknown           ErrorKind = "unknown"

	// Data-integrity faults detected before any chain call.
	KindWalletInvalid  ErrorKind = "wallet-invalid"
	KindNetworkMissing ErrorKind = "network-missing"

	// KindLedgerWrite marks a ledger write that failed after the chain settled.
	KindLedgerWrite ErrorKind = "ledger-write-after-settlement"
	// KindClaimWrite marks a claim that could not be recorded on PR open.
	KindClaimWrite ErrorKind = "claim-write-failed"
)

// Severity is how loudly maintainers are told about a failure.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorClass is the policy attached to a failure.
type ErrorClass struct {
	Kind      ErrorKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Escalate  bool      `json:"escalate"`
	Retryable bool      `json:"retryable"`
}

type classRule struct {
	needles []string
	class   ErrorClass
}

// Order matters: "insufficient funds for gas" is a funding problem, a
// timed out gas estimate is an RPC problem, and an expired request context
// ("context deadline exceeded") is not an expired bounty.
var classRules = []classRule{
	{[]string{"not open", "notopen", "already resolved", "already refunded"},
		ErrorClass{Kind: KindNotOpen, Severity: SeverityLow}},
	{[]string{"paused"},
		ErrorClass{Kind: KindPaused, Severity: SeverityCritical, Escalate: true}},
	{[]string{"insufficient"},
		ErrorClass{Kind: KindInsufficientFunds, Severity: SeverityCritical, Escalate: true}},
	{[]string{"context deadline exceeded", "batch", "timeout", "timed out", "connection", "missing revert data", "429", "too many requests"},
		ErrorClass{Kind: KindRPCFailure, Severity: SeverityCritical, Escalate: true, Retryable: true}},
	{[]string{"deadline"},
		ErrorClass{Kind: KindDeadlinePassed, Severity: SeverityHigh, Escalate: true}},
	{[]string{"gas"},
		ErrorClass{Kind: KindGasEstimation, Severity: SeverityHigh, Escalate: true, Retryable: true}},
	{[]string{"invalid recipient", "invalid address"},
		ErrorClass{Kind: KindInvalidRecipient, Severity: SeverityHigh, Escalate: true}},
	{[]string{"no contract code", "missing contract"},
		ErrorClass{Kind: KindMissingContract, Severity: SeverityCritical, Escalate: true}},
}

// ClassifyChainError buckets a raw chain failure message by substring.
func ClassifyChainError(raw string) ErrorClass {
	msg := strings.ToLower(raw)
	for _, r := range classRules {
		for _, n := range r.needles {
			if strings.Contains(msg, n) {
				return r.class
			}
		}
	}
	return ErrorClass{Kind: KindUnknown, Severity: SeverityHigh, Escalate: true}
}

// ClassFor returns the fixed policy of a fault that is not classified from a
// chain message.
func ClassFor(kind ErrorKind) ErrorClass {
	switch kind {
	case KindWalletInvalid:
		return ErrorClass{Kind: kind, Severity: SeverityHigh, Escalate: true}
	case KindNetworkMissing, KindLedgerWrite:
		return ErrorClass{Kind: kind, Severity: SeverityCritical, Escalate: true}
	case KindClaimWrite:
		return ErrorClass{Kind: kind, Severity: SeverityHigh, Escalate: true}
	}
	for _, r := range classRules {
		if r.class.Kind == kind {
			return r.class
		}
	}
	return ErrorClass{Kind: KindUnknown, Severity: SeverityHigh, Escalate: true}
}
