package network

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"github.com/helix-labs/helix/amount"
	"github.com/helix-labs/helix/chain"
	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/node"
	"github.com/helix-labs/helix/store"
	"github.com/helix-labs/helix/types"
)

const (
	testChainID   = "helix-test-1"
	testJWTSecret = "gateway-test-secret"
)

type testIdentity struct {
	priv crypto.PrivateKey
	addr string
	pub  []byte
}

func newIdentity(t *testing.T) testIdentity {
	t.Helper()
	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	addr, err := pub.Address()
	require.NoError(t, err)
	pubBytes, err := pub.Marshal()
	require.NoError(t, err)
	return testIdentity{priv: priv, addr: addr.String(), pub: pubBytes}
}

func newTestNode(t *testing.T, extraAlloc map[string]int64) (*node.Node, testIdentity) {
	t.Helper()
	val := newIdentity(t)

	db, err := store.NewDatabase(t.TempDir())
	require.NoError(t, err)
	st, err := store.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	alloc := map[string]int64{val.addr: 10_000 * config.NanoPerHLX}
	for addr, bal := range extraAlloc {
		alloc[addr] = bal
	}
	gen := &chain.GenesisConfig{
		ChainID:     testChainID,
		GenesisTime: time.Now().Unix(),
		ShardCount:  2,
		Alloc:       alloc,
		Validators: []chain.GenesisValidator{{
			Address:       val.addr,
			PubKey:        val.pub,
			Stake:         2_000 * config.NanoPerHLX,
			CommissionBps: config.DefaultCommissionBps,
		}},
	}

	cfg := config.DefaultConfig()
	cfg.ChainID = testChainID
	cfg.ShardCount = 2
	cfg.BlockIntervalMs = 150
	cfg.JWTSecret = testJWTSecret

	n, err := node.NewNode(cfg, st, gen, val.priv)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(func() { _ = n.Stop() })
	return n, val
}

// startGateway serves the router for one running node.
func startGateway(t *testing.T, n *node.Node) *httptest.Server {
	t.Helper()
	router := NewRouter(n, testJWTSecret)
	server := httptest.NewServer(router.SetupRoutes())
	router.Start()
	t.Cleanup(func() {
		router.Stop()
		server.Close()
	})
	return server
}

type rpcEnvelope struct {
	Result json.RawMessage `json:"result"`
	Error  *JSONRPCError   `json:"error"`
	ID     interface{}     `json:"id"`
}

func rpcCall(t *testing.T, url, token, method string, params []interface{}) rpcEnvelope {
	t.Helper()
	body, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env rpcEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func mintToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRPCStatusAndHealth(t *testing.T) {
	n, _ := newTestNode(t, nil)
	server := startGateway(t, n)

	env := rpcCall(t, server.URL, "", "helix_getStatus", nil)
	require.Nil(t, env.Error)

	var status types.NodeStatus
	require.NoError(t, json.Unmarshal(env.Result, &status))
	require.Equal(t, testChainID, status.ChainID)
	require.Equal(t, 2, status.ShardCount)
	require.Equal(t, 1, status.ValidatorCount)
	require.False(t, status.Halted)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(server.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var status2 types.NodeStatus
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&status2))
	require.Equal(t, testChainID, status2.ChainID)
}

func TestRPCSubmitTransactionAndGetAccount(t *testing.T) {
	sender := newIdentity(t)
	receiver := newIdentity(t)
	n, _ := newTestNode(t, map[string]int64{sender.addr: 100 * config.NanoPerHLX})
	server := startGateway(t, n)

	tx := &types.Transaction{
		Timestamp: time.Now().Unix(),
		From:      sender.addr,
		To:        receiver.addr,
		Amount:    amount.FromNano(5 * config.NanoPerHLX),
		GasFee:    amount.FromNano(config.DefaultGasFee),
		Nonce:     0,
	}
	require.NoError(t, tx.Sign(sender.priv))
	raw, err := tx.Marshal()
	require.NoError(t, err)

	env := rpcCall(t, server.URL, "", "helix_submitTransaction",
		[]interface{}{base64.StdEncoding.EncodeToString(raw)})
	require.Nil(t, env.Error)

	var submitted struct {
		TxID   string `json:"txId"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &submitted))
	require.Equal(t, tx.ID.String(), submitted.TxID)
	require.Equal(t, "pending", submitted.Status)

	type accountInfo struct {
		Address    string  `json:"address"`
		Balance    int64   `json:"balance"`
		BalanceHLX float64 `json:"balanceHLX"`
		Nonce      uint64  `json:"nonce"`
	}

	require.Eventually(t, func() bool {
		env := rpcCall(t, server.URL, "", "helix_getAccount", []interface{}{receiver.addr})
		if env.Error != nil {
			return false
		}
		var acc accountInfo
		if err := json.Unmarshal(env.Result, &acc); err != nil {
			return false
		}
		return acc.Balance == 5*config.NanoPerHLX
	}, 15*time.Second, 25*time.Millisecond)

	env = rpcCall(t, server.URL, "", "helix_getAccount", []interface{}{sender.addr})
	require.Nil(t, env.Error)
	var acc accountInfo
	require.NoError(t, json.Unmarshal(env.Result, &acc))
	require.Equal(t, int64(95*config.NanoPerHLX-config.DefaultGasFee), acc.Balance)
	require.Equal(t, uint64(1), acc.Nonce)
}

func TestRPCStakingRequiresAuth(t *testing.T) {
	staker := newIdentity(t)
	n, _ := newTestNode(t, map[string]int64{staker.addr: 10_000 * config.NanoPerHLX})
	server := startGateway(t, n)

	stakeParams := []interface{}{map[string]interface{}{
		"address": staker.addr,
		"pubKey":  base64.StdEncoding.EncodeToString(staker.pub),
		"amount":  3_000 * config.NanoPerHLX,
	}}

	env := rpcCall(t, server.URL, "", "helix_stake", stakeParams)
	require.NotNil(t, env.Error)
	require.Equal(t, codeUnauthorized, env.Error.Code)

	env = rpcCall(t, server.URL, mintToken(t, "wrong-secret"), "helix_stake", stakeParams)
	require.NotNil(t, env.Error)
	require.Equal(t, codeUnauthorized, env.Error.Code)

	env = rpcCall(t, server.URL, mintToken(t, testJWTSecret), "helix_stake", stakeParams)
	require.Nil(t, env.Error)

	env = rpcCall(t, server.URL, "", "helix_getValidatorSet", nil)
	require.Nil(t, env.Error)
	var set struct {
		Count      int `json:"count"`
		Validators []struct {
			Address string `json:"address"`
			Stake   int64  `json:"stake"`
		} `json:"validators"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &set))
	require.Equal(t, 2, set.Count)

	found := false
	for _, v := range set.Validators {
		if v.Address == staker.addr {
			found = true
			require.Equal(t, int64(3_000*config.NanoPerHLX), v.Stake)
		}
	}
	require.True(t, found)
}

func TestRPCDelegationFlow(t *testing.T) {
	delegator := newIdentity(t)
	n, val := newTestNode(t, map[string]int64{delegator.addr: 100 * config.NanoPerHLX})
	server := startGateway(t, n)
	token := mintToken(t, testJWTSecret)

	env := rpcCall(t, server.URL, token, "helix_delegate", []interface{}{map[string]interface{}{
		"delegator": delegator.addr,
		"validator": val.addr,
		"amount":    20 * config.NanoPerHLX,
	}})
	require.Nil(t, env.Error)

	env = rpcCall(t, server.URL, "", "helix_getAccount", []interface{}{delegator.addr})
	require.Nil(t, env.Error)
	var acc struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &acc))
	require.Equal(t, int64(80*config.NanoPerHLX), acc.Balance)

	env = rpcCall(t, server.URL, token, "helix_undelegate", []interface{}{map[string]interface{}{
		"delegator": delegator.addr,
		"validator": val.addr,
		"amount":    20 * config.NanoPerHLX,
	}})
	require.Nil(t, env.Error)
}

func TestRPCErrorPaths(t *testing.T) {
	n, _ := newTestNode(t, nil)
	server := startGateway(t, n)

	env := rpcCall(t, server.URL, "", "helix_noSuchMethod", nil)
	require.NotNil(t, env.Error)
	require.Equal(t, codeMethodNotFound, env.Error.Code)

	env = rpcCall(t, server.URL, "", "helix_getAccount", nil)
	require.NotNil(t, env.Error)
	require.Equal(t, codeInternalError, env.Error.Code)

	env = rpcCall(t, server.URL, "", "helix_submitTransaction", []interface{}{"not base64!!"})
	require.NotNil(t, env.Error)

	resp, err := http.Get(server.URL + "/rpc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
