package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/manifest"
)

var deployer = common.HexToAddress("0x00000000000000000000000000000000000000d1")

// roleNode is a JSON-RPC endpoint on which every contract has code and
// hasRole answers whatever granted holds.
type roleNode struct {
	granted atomic.Bool
}

func (n *roleNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	switch req.Method {
	case "eth_chainId":
		resp["result"] = hexutil.Uint64(31337)
	case "eth_getCode":
		resp["result"] = hexutil.Bytes{0x60, 0x80}
	case "eth_call":
		var word [32]byte
		if n.granted.Load() {
			word[31] = 1
		}
		resp["result"] = hexutil.Bytes(word[:])
	default:
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// cliEnv isolates a run from the caller's environment and seeds a manifest
// with all four contracts.
func cliEnv(t *testing.T) (rpcURL, manifestPath string, node *roleNode) {
	t.Helper()
	for _, key := range []string{"JV_CONFIG", "NETWORK", "RPC_URL", "CHAIN_ID", "GAS_FEE_CAP", "GAS_TIP_CAP",
		"MANIFEST_PATH", "MANIFEST_DSN", "ARTIFACTS_DIR", "OPERATOR", "PRIVATE_KEY"} {
		t.Setenv(key, "")
	}

	node = &roleNode{}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	manifestPath = filepath.Join(t.TempDir(), "local.json")
	store, err := manifest.OpenFile(manifestPath, "local")
	require.NoError(t, err)
	m := manifest.New("local")
	m.ChainID = 31337
	m.Deployer = deployer
	m.CurrentOwner = deployer
	m.Timestamp = time.Unix(1_700_000_000, 0).UTC()
	for i, k := range publish.Kinds {
		m.Record(manifest.DeployedContract{
			Kind:    k,
			Address: common.BigToAddress(big.NewInt(int64(0x1000 + i))),
		})
	}
	require.NoError(t, store.Save(context.Background(), m))
	require.NoError(t, store.Close())
	return srv.URL, manifestPath, node
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"jv-publish"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVerifyExitCodes(t *testing.T) {
	rpcURL, path, node := cliEnv(t)
	args := []string{"--network", "local", "--rpc-url", rpcURL, "--chain-id", "31337", "--manifest", path, "--log-level", "error", "verify"}

	node.granted.Store(true)
	code, out, errOut := runCLI(t, args...)
	assert.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "verification passed")

	node.granted.Store(false)
	code, out, errOut = runCLI(t, args...)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "MISMATCH")
	assert.Contains(t, errOut, "error: ")
}

func TestVerifyRejectsChainIDMismatch(t *testing.T) {
	rpcURL, path, _ := cliEnv(t)
	code, _, errOut := runCLI(t, "--network", "local", "--rpc-url", rpcURL, "--chain-id", "1", "--manifest", path, "--log-level", "error", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "chain id")
}

func TestGlobalFlagAfterCommandIsExplained(t *testing.T) {
	_, path, _ := cliEnv(t)
	code, _, errOut := runCLI(t, "--manifest", path, "plan", "--network", "local")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--network is a global option")
}

func TestPlanNeedsNoNode(t *testing.T) {
	_, path, _ := cliEnv(t)
	code, out, errOut := runCLI(t, "--network", "local", "--manifest", path, "--log-level", "error", "plan", "--json")
	require.Equal(t, 0, code, errOut)

	var steps []struct {
		Kind    string `json:"kind"`
		Action  string `json:"action"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, len(publish.Kinds))
	for _, st := range steps {
		assert.Equal(t, "skip", st.Action, st.Kind)
	}
}
