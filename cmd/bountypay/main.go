package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jmespath/go-jmespath"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/bountypay/internal/config"
)

// newLogger returns a JSON logger that tags records with "file.go:line".
func newLogger(w io.Writer, lvl slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       lvl,
		ReplaceAttr: shortSource,
	}))
}

func shortSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	src, ok := a.Value.Any().(*slog.Source)
	if !ok || src == nil {
		return a
	}
	return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
}

// commandLogger logs to stderr at LOG_LEVEL. Admin commands print their
// results on stdout, so logs stay off it.
func commandLogger(cfg *config.Config) *slog.Logger {
	return newLogger(os.Stderr, cfg.LogLevel())
}

func printServerResponse(res *http.Response) error {
	return writeServerResponse(os.Stdout, res)
}

func printJSON(v interface{}) error {
	return writeJSON(os.Stdout, v)
}

// writeServerResponse writes the status and JSON body of a successful
// response. The server's error field, or any non-2xx status, is returned as
// an error instead.
func writeServerResponse(w io.Writer, res *http.Response) error {
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}
	var data interface{}
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("response code %d is not JSON: %w", res.StatusCode, err)
	}

	field, err := jmespath.Search("error", data)
	if err != nil {
		return fmt.Errorf("error checking error field in response: %w", err)
	}
	if msg, ok := field.(string); ok && msg != "" {
		return fmt.Errorf("server error (response code %d): %s", res.StatusCode, msg)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("unexpected response code %d", res.StatusCode)
	}
	return writeJSON(w, struct {
		Status int             `json:"status"`
		Body   json.RawMessage `json:"body"`
	}{
		Status: res.StatusCode,
		Body:   b,
	})
}

func writeJSON(w io.Writer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not serialize output: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

func main() {
	app := &cli.App{
		Name:  "bountypay",
		Usage: "GitHub bounty escrow and settlement",
		Commands: []*cli.Command{
			{
				Name:        "run",
				Usage:       "Run the webhook server or the worker",
				Subcommands: append(serverCommands(), workerCommands()...),
			},
			{
				Name:        "admin",
				Usage:       "Operator commands",
				Subcommands: adminCommands(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		newLogger(os.Stderr, slog.LevelInfo).Error("command failed", "args", os.Args[1:], "error", err)
		os.Exit(1)
	}
}
