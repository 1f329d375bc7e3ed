package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/bountypay/internal/config"
)

type recordingRegistry struct {
	workflows  []string
	activities []string
}

func funcName(f interface{}) string {
	name := runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
	name = name[strings.LastIndex(name, ".")+1:]
	return strings.TrimSuffix(name, "-fm")
}

func (r *recordingRegistry) RegisterWorkflow(w interface{}) {
	r.workflows = append(r.workflows, funcName(w))
}

func (r *recordingRegistry) RegisterActivity(a interface{}) {
	r.activities = append(r.activities, funcName(a))
}

func writeNetworks(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
networks:
  - alias: base_sepolia
    chain_id: 84532
    rpc_url: https://sepolia.base.org
    escrow_address: "0x00000000000000000000000000000000000000e5"
    token:
      address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
      symbol: USDC
      decimals: 6
`), 0o600))
	return path
}

func TestRegister(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Env: "dev", NetworksFile: writeNetworks(t), TaskQueue: "bountypay"}

	a, closeLedger, err := newActivities(context.Background(), l, cfg)
	require.NoError(t, err)
	defer closeLedger()

	r := &recordingRegistry{}
	register(r, a)
	assert.ElementsMatch(t, []string{"DeliverEventWorkflow", "EscalateWorkflow", "ReconcileBountiesWorkflow"}, r.workflows)
	assert.ElementsMatch(t, []string{
		"PostEventComment", "PinBountyComment", "SendEventEmail", "NotifyMaintainers", "ReconcileOpenBounties",
	}, r.activities)
}

func TestNewActivitiesRequiresDatabaseOutsideDev(t *testing.T) {
	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Env: "prod", NetworksFile: writeNetworks(t)}
	_, _, err := newActivities(context.Background(), l, cfg)
	assert.ErrorContains(t, err, "DATABASE_URL not set")

	cfg.NetworksFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, _, err = newActivities(context.Background(), l, cfg)
	assert.Error(t, err)
}
