package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/bountypay/chain"
	"github.com/brojonat/bountypay/http/api"
	"github.com/brojonat/bountypay/internal/config"
	"github.com/brojonat/bountypay/store"
)

const (
	EnvServerEndpoint  = "SERVER_ENDPOINT"
	EnvServerSecretKey = "BOUNTYPAY_SECRET_KEY"
	EnvAuthToken       = "AUTH_TOKEN"
)

func endpointFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "endpoint",
		Aliases: []string{"end", "e"},
		Value:   "http://localhost:8080",
		Usage:   "Server endpoint",
		EnvVars: []string{EnvServerEndpoint},
	}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "token",
		Required: true,
		Usage:    "Authorization token",
		EnvVars:  []string{EnvAuthToken},
	}
}

func networkFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "network",
		Aliases:  []string{"n"},
		Required: true,
		Usage:    "Network alias from the networks file",
	}
}

// serverRequest sends a JSON request to the API and prints the response.
// The bearer token is attached when the command has one.
func serverRequest(ctx *cli.Context, method, path string, body interface{}) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx.Context, method, strings.TrimRight(ctx.String("endpoint"), "/")+path, buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := ctx.String("token"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return printServerResponse(res)
}

func adminCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "migrate",
			Usage:  "Apply database migrations to DATABASE_URL",
			Action: migrateDB,
		},
		{
			Name:  "token",
			Usage: "Get an operator token with the server secret key",
			Flags: []cli.Flag{
				endpointFlag(),
				&cli.StringFlag{
					Name:    "secret-key",
					Aliases: []string{"sk"},
					Usage:   "Server secret key",
					EnvVars: []string{EnvServerSecretKey},
				},
				&cli.StringFlag{
					Name:     "email",
					Required: true,
					Usage:    "Operator email",
				},
				&cli.StringFlag{
					Name:  "env-file",
					Usage: "Path to .env file to update with the new token",
				},
			},
			Action: getAuthToken,
		},
		{
			Name:  "compute-bounty-id",
			Usage: "Derive a bounty id from sponsor, repository id and issue",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "sponsor", Required: true, Usage: "Sponsor address"},
				&cli.Int64Flag{Name: "repo-id", Required: true, Usage: "GitHub repository id"},
				&cli.IntFlag{Name: "issue", Required: true, Usage: "Issue number"},
				&cli.StringFlag{Name: "network", Aliases: []string{"n"}, Usage: "Also ask the escrow on this network"},
			},
			Action: computeBountyID,
		},
		{
			Name:  "create-bounty",
			Usage: "Fund a bounty from the signer wallet and register it with the server",
			Flags: []cli.Flag{
				endpointFlag(),
				networkFlag(),
				&cli.StringFlag{Name: "repo", Required: true, Usage: "Repository full name, e.g. acme/widgets"},
				&cli.Int64Flag{Name: "repo-id", Required: true, Usage: "GitHub repository id"},
				&cli.IntFlag{Name: "issue", Required: true, Usage: "Issue number"},
				&cli.StringFlag{Name: "amount", Required: true, Usage: "Amount in whole tokens, e.g. 25.5"},
				&cli.DurationFlag{Name: "duration", Value: 30 * 24 * time.Hour, Usage: "Time until the deadline"},
				&cli.StringFlag{Name: "resolver", Required: true, Usage: "Resolver address allowed to pay out"},
			},
			Action: createBounty,
		},
		{
			Name:   "balance",
			Usage:  "Show the signer's token balance and the escrow pause state",
			Flags:  []cli.Flag{networkFlag()},
			Action: signerBalance,
		},
		{
			Name:  "stats",
			Usage: "Show bounty statistics",
			Flags: []cli.Flag{
				endpointFlag(),
				&cli.StringFlag{Name: "sponsor", Usage: "Only bounties of this sponsor"},
			},
			Action: func(ctx *cli.Context) error {
				path := "/stats"
				if s := ctx.String("sponsor"); s != "" {
					path += "?sponsor=" + url.QueryEscape(s)
				}
				return serverRequest(ctx, http.MethodGet, path, nil)
			},
		},
		{
			Name:  "replay",
			Usage: "Re-run settlement for a merged pull request",
			Flags: []cli.Flag{
				endpointFlag(),
				tokenFlag(),
				&cli.StringFlag{Name: "repo", Required: true, Usage: "Repository full name"},
				&cli.IntFlag{Name: "pr", Required: true, Usage: "Pull request number"},
			},
			Action: func(ctx *cli.Context) error {
				return serverRequest(ctx, http.MethodPost, "/admin/replay", api.ReplayRequest{
					RepoFullName: ctx.String("repo"),
					PRNumber:     ctx.Int("pr"),
				})
			},
		},
		{
			Name:  "reconcile",
			Usage: "Reconcile one bounty, or all open bounties, with the chain",
			Flags: []cli.Flag{
				endpointFlag(),
				tokenFlag(),
				&cli.StringFlag{Name: "bounty-id", Usage: "Bounty id (all open bounties when empty)"},
			},
			Action: func(ctx *cli.Context) error {
				return serverRequest(ctx, http.MethodPost, "/admin/reconcile", api.ReconcileRequest{BountyID: ctx.String("bounty-id")})
			},
		},
		{
			Name:  "refund-eligibility",
			Usage: "Check whether a caller can refund a bounty now",
			Flags: []cli.Flag{
				endpointFlag(),
				&cli.StringFlag{Name: "bounty-id", Required: true, Usage: "Bounty id"},
				&cli.StringFlag{Name: "caller", Required: true, Usage: "Caller wallet address"},
			},
			Action: func(ctx *cli.Context) error {
				path := fmt.Sprintf("/bounties/%s/refund-eligibility?caller=%s",
					url.PathEscape(ctx.String("bounty-id")), url.QueryEscape(ctx.String("caller")))
				return serverRequest(ctx, http.MethodGet, path, nil)
			},
		},
		{
			Name:  "refund",
			Usage: "Refund an expired bounty on behalf of its sponsor",
			Flags: []cli.Flag{
				endpointFlag(),
				tokenFlag(),
				&cli.StringFlag{Name: "bounty-id", Required: true, Usage: "Bounty id"},
				&cli.StringFlag{Name: "caller", Required: true, Usage: "Sponsor wallet address"},
			},
			Action: func(ctx *cli.Context) error {
				return serverRequest(ctx, http.MethodPost, "/bounties/"+url.PathEscape(ctx.String("bounty-id"))+"/refund",
					api.RefundRequest{Caller: ctx.String("caller")})
			},
		},
		{
			Name:  "wallet",
			Usage: "Link a GitHub account to a payout wallet",
			Flags: []cli.Flag{
				endpointFlag(),
				tokenFlag(),
				&cli.Int64Flag{Name: "github-id", Required: true, Usage: "GitHub user id"},
				&cli.StringFlag{Name: "github-username", Required: true, Usage: "GitHub login"},
				&cli.StringFlag{Name: "wallet", Required: true, Usage: "Payout address"},
				&cli.StringFlag{Name: "email", Usage: "Contact email for notifications"},
			},
			Action: func(ctx *cli.Context) error {
				return serverRequest(ctx, http.MethodPut, "/admin/wallets", api.WalletRequest{
					GithubID:       ctx.Int64("github-id"),
					GithubUsername: ctx.String("github-username"),
					WalletAddress:  ctx.String("wallet"),
					Email:          ctx.String("email"),
				})
			},
		},
	}
}

func migrateDB(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	logger := commandLogger(cfg)
	db, err := store.Open(ctx.Context, cfg.DatabaseURL, logger, cfg.DBMaxRetries, cfg.DBRetryInterval)
	if err != nil {
		return err
	}
	return store.Migrate(db.DB, logger)
}

func getAuthToken(ctx *cli.Context) error {
	r, err := http.NewRequestWithContext(ctx.Context, http.MethodPost, strings.TrimRight(ctx.String("endpoint"), "/")+"/token", nil)
	if err != nil {
		return err
	}
	r.SetBasicAuth(ctx.String("email"), ctx.String("secret-key"))
	res, err := http.DefaultClient.Do(r)
	if err != nil {
		return fmt.Errorf("could not do server request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}
	var resp api.DefaultJSONResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("server error: %s", resp.Error)
	}

	if envFile := ctx.String("env-file"); envFile != "" {
		if err := setEnvLine(envFile, EnvAuthToken, resp.Message); err != nil {
			return err
		}
		fmt.Printf("Bearer token written to %s\n", envFile)
	}

	res.Body = io.NopCloser(bytes.NewReader(body))
	return printServerResponse(res)
}

// setEnvLine sets KEY=value in a .env file, replacing an existing line.
func setEnvLine(path, key, value string) error {
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .env file: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(content) == 0 {
		lines = nil
	}
	found := false
	for i, line := range lines {
		if strings.HasPrefix(line, key+"=") {
			lines[i] = key + "=" + value
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, key+"="+value)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write .env file: %w", err)
	}
	return nil
}

func computeBountyID(ctx *cli.Context) error {
	sponsor, err := chain.ValidateAddress(ctx.String("sponsor"))
	if err != nil {
		return fmt.Errorf("invalid --sponsor: %w", err)
	}
	repoHash := chain.RepoIDHash(ctx.Int64("repo-id"))
	id := chain.DeriveBountyID(sponsor, repoHash, uint64(ctx.Int("issue")))
	out := map[string]interface{}{
		"bounty_id":    id.Hex(),
		"repo_id_hash": repoHash.Hex(),
	}

	if network := ctx.String("network"); network != "" {
		gw, err := readOnlyGateway()
		if err != nil {
			return err
		}
		onchain, err := gw.ComputeBountyID(ctx.Context, network, sponsor, repoHash, uint64(ctx.Int("issue")))
		if err != nil {
			return fmt.Errorf("failed to compute bounty id on %s: %w", network, err)
		}
		out["contract_bounty_id"] = onchain.Hex()
		out["match"] = onchain == id
	}
	return printJSON(out)
}

func createBounty(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	networks, tokens, err := cfg.Networks()
	if err != nil {
		return err
	}
	n, ok := networks.Lookup(ctx.String("network"))
	if !ok {
		return fmt.Errorf("unknown network %q", ctx.String("network"))
	}
	key, err := cfg.SignerKey()
	if err != nil {
		return err
	}
	resolver, err := chain.ValidateAddress(ctx.String("resolver"))
	if err != nil {
		return fmt.Errorf("invalid --resolver: %w", err)
	}
	repo := ctx.String("repo")
	if !strings.Contains(repo, "/") {
		return fmt.Errorf("invalid --repo %q", repo)
	}
	tok := tokens.Lookup(n.Token.Address)
	amount, err := chain.ParseDisplayAmount(ctx.String("amount"), tok.Decimals)
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}

	logger := commandLogger(cfg)
	gw := chain.NewGateway(networks, key, logger)
	deadline := time.Now().Add(ctx.Duration("duration"))
	id, receipt, err := gw.CreateBounty(ctx.Context, n.Alias, resolver, chain.RepoIDHash(ctx.Int64("repo-id")),
		uint64(ctx.Int("issue")), deadline, amount)
	if err != nil {
		return fmt.Errorf("createBounty failed: %w", err)
	}
	logger.Info("bounty funded", "bounty_id", id.Hex(), "tx_hash", receipt.TxHash, "block", receipt.BlockNumber)

	return serverRequest(ctx, http.MethodPost, "/bounties", api.RegisterBountyRequest{
		Network:      n.Alias,
		BountyID:     id.Hex(),
		RepoFullName: repo,
		RepoID:       ctx.Int64("repo-id"),
		IssueNumber:  ctx.Int("issue"),
		TxHash:       receipt.TxHash,
	})
}

func signerBalance(ctx *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	networks, tokens, err := cfg.Networks()
	if err != nil {
		return err
	}
	n, ok := networks.Lookup(ctx.String("network"))
	if !ok {
		return fmt.Errorf("unknown network %q", ctx.String("network"))
	}
	key, err := cfg.SignerKey()
	if err != nil {
		return err
	}
	gw := chain.NewGateway(networks, key, commandLogger(cfg))
	bal, err := gw.TokenBalance(ctx.Context, n.Alias, gw.Signer())
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}
	paused, err := gw.Paused(ctx.Context, n.Alias)
	if err != nil {
		return fmt.Errorf("failed to read pause state: %w", err)
	}
	tok := tokens.Lookup(n.Token.Address)
	return printJSON(map[string]interface{}{
		"network":     n.Alias,
		"signer":      gw.Signer().Hex(),
		"token":       tok.Symbol,
		"balance_raw": bal.String(),
		"balance":     chain.FormatAmount(bal, tok.Decimals),
		"paused":      paused,
	})
}

func readOnlyGateway() (*chain.Gateway, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	networks, _, err := cfg.Networks()
	if err != nil {
		return nil, err
	}
	return chain.NewGateway(networks, nil, commandLogger(cfg)), nil
}

