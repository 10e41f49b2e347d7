package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakevault/core/events"
	"stakevault/core/state"
	"stakevault/crypto"
	"stakevault/native/bank"
	"stakevault/native/staking"
	"stakevault/storage"
	"stakevault/storage/eventlog"
)

const testSecret = "rpc-test-secret-0123456789abcdef0123"

var (
	adminAddr = crypto.MustNewAddress(crypto.StakePrefix, bytes.Repeat([]byte{0xAD}, 20))
	aliceAddr = crypto.MustNewAddress(crypto.StakePrefix, bytes.Repeat([]byte{0x01}, 20))
	bobAddr   = crypto.MustNewAddress(crypto.StakePrefix, bytes.Repeat([]byte{0x02}, 20))
)

type testEnv struct {
	server *httptest.Server
	rpc    *Server
	engine *staking.Engine
	state  *state.Manager
	now    int64
	auth   AuthConfig
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	env := &testEnv{state: mgr, now: 1_700_000_000}
	engine := staking.NewEngine(mgr)
	engine.SetNowFunc(func() int64 { return env.now })
	require.NoError(t, engine.Init(adminAddr.Raw(), [3]uint32{1000, 2000, 3000}))

	store, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	engine.SetEmitter(events.MultiEmitter{store})

	ledger := bank.NewLedger(mgr)
	require.NoError(t, ledger.Credit(aliceAddr.Raw(), big.NewInt(1_000_000)))
	require.NoError(t, ledger.Credit(adminAddr.Raw(), big.NewInt(500_000)))

	env.auth = AuthConfig{HMACSecret: testSecret, Issuer: "stakectl", Audience: "stakevault"}
	srv := NewServer(engine, ledger, store, ServerConfig{Auth: env.auth, RateLimit: limit}, nil)
	env.rpc = srv
	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	env.engine = engine
	return env
}

func (e *testEnv) token(t *testing.T, account crypto.Address) string {
	t.Helper()
	tok, err := IssueToken(e.auth, account.String(), time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

func (e *testEnv) call(t *testing.T, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/rpc", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestDepositLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	alice := env.token(t, aliceAddr)
	admin := env.token(t, adminAddr)

	status, resp := env.call(t, admin, "stake_fundReserve", map[string]string{"amount": "100000"})
	require.Equal(t, http.StatusOK, status)
	var reserve ReserveResult
	decodeResult(t, resp, &reserve)
	require.Equal(t, "100000", reserve.Reserve)

	status, resp = env.call(t, alice, "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "1000"})
	require.Equal(t, http.StatusOK, status)
	var info DepositInfoResult
	decodeResult(t, resp, &info)
	require.True(t, info.Active)
	require.Equal(t, aliceAddr.String(), info.Account)
	require.Equal(t, info.StartTime+180, info.MaturityTime)
	require.Equal(t, "active", info.Status)

	_, resp = env.call(t, "", "stake_allBalanceStaking", nil)
	var total TotalResult
	decodeResult(t, resp, &total)
	require.Equal(t, "1000", total.Total)

	status, resp = env.call(t, alice, "stake_withdrawDeposit", nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeNotMatured, resp.Error.Code)

	env.now += 180
	_, resp = env.call(t, "", "stake_previewWithdraw", map[string]string{"account": aliceAddr.String()})
	var preview PreviewResult
	decodeResult(t, resp, &preview)
	require.True(t, preview.Matured)
	require.Equal(t, "1100", preview.Payout)

	status, resp = env.call(t, alice, "stake_withdrawDeposit", nil)
	require.Equal(t, http.StatusOK, status)
	var withdrawn WithdrawResult
	decodeResult(t, resp, &withdrawn)
	require.Equal(t, "100", withdrawn.Reward)
	require.Equal(t, "1100", withdrawn.Payout)

	_, resp = env.call(t, "", "bank_getBalance", map[string]string{"account": aliceAddr.String()})
	var bal BalanceResult
	decodeResult(t, resp, &bal)
	require.Equal(t, "1000100", bal.Balance)

	_, resp = env.call(t, "", "stake_getDepositInfo", map[string]string{"account": aliceAddr.String()})
	decodeResult(t, resp, &info)
	require.False(t, info.Active)
	require.Zero(t, info.StartTime)
	require.Zero(t, info.MaturityTime)

	_, resp = env.call(t, "", "stake_listEvents", map[string]interface{}{"account": aliceAddr.String()})
	var evts EventsResult
	decodeResult(t, resp, &evts)
	require.Len(t, evts.Events, 2)
	require.Equal(t, events.TypeDepositCreated, evts.Events[0].Type)
	require.Equal(t, events.TypeDepositWithdrawn, evts.Events[1].Type)
}

func TestListEventsAcceptsUppercaseAccount(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	_, resp := env.call(t, env.token(t, aliceAddr), "stake_createDeposit", map[string]interface{}{"tier": 1, "amount": "50"})
	require.Nil(t, resp.Error)

	_, resp = env.call(t, "", "stake_listEvents", map[string]interface{}{"account": strings.ToUpper(aliceAddr.String())})
	var evts EventsResult
	decodeResult(t, resp, &evts)
	require.Len(t, evts.Events, 1)
	require.Equal(t, events.TypeDepositCreated, evts.Events[0].Type)
	require.Equal(t, aliceAddr.String(), evts.Events[0].Account)
}

func TestMutatingMethodsRequireToken(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	status, resp := env.call(t, "", "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "1"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := IssueToken(AuthConfig{HMACSecret: "another-secret-0123456789abcdef0123", Issuer: "stakectl", Audience: "stakevault"}, aliceAddr.String(), time.Hour, time.Now())
	require.NoError(t, err)
	status, resp = env.call(t, forged, "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "1"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	expired, err := IssueToken(env.auth, aliceAddr.String(), time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	status, _ = env.call(t, expired, "stake_withdrawDeposit", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestSetParamsOverRPC(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	status, resp := env.call(t, env.token(t, bobAddr), "stake_setParams", map[string]uint32{"durationUnits": 3, "rewardBps": 9})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, resp = env.call(t, env.token(t, adminAddr), "stake_setParams", map[string]uint32{"durationUnits": 20, "rewardBps": 1})
	require.Equal(t, http.StatusOK, status)
	var tiers []TierResult
	decodeResult(t, resp, &tiers)
	require.Len(t, tiers, 4)
	require.Equal(t, TierResult{DurationUnits: 20, RewardBps: 1}, tiers[3])

	status, resp = env.call(t, env.token(t, adminAddr), "stake_setParams", map[string]uint32{"durationUnits": 0, "rewardBps": 1})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeStakeInvalidParams, resp.Error.Code)

	_, resp = env.call(t, "", "stake_owner", nil)
	var owner OwnerResult
	decodeResult(t, resp, &owner)
	require.Equal(t, adminAddr.String(), owner.Owner)
}

func TestStakingErrorCodes(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	alice := env.token(t, aliceAddr)

	_, resp := env.call(t, alice, "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "0"})
	require.Equal(t, codeInvalidAmount, resp.Error.Code)

	_, resp = env.call(t, alice, "stake_createDeposit", map[string]interface{}{"tier": 4, "amount": "1"})
	require.Equal(t, codeUnknownTier, resp.Error.Code)

	_, resp = env.call(t, alice, "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "99999999"})
	require.Equal(t, codeInsufficientBalance, resp.Error.Code)

	_, resp = env.call(t, alice, "stake_withdrawDeposit", nil)
	require.Equal(t, codeNoActiveDeposit, resp.Error.Code)

	_, resp = env.call(t, alice, "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "10"})
	require.Nil(t, resp.Error)
	_, resp = env.call(t, alice, "stake_createDeposit", map[string]interface{}{"tier": 3, "amount": "10"})
	require.Equal(t, codeAlreadyStaking, resp.Error.Code)

	env.now += 3600
	_, resp = env.call(t, alice, "stake_withdrawDeposit", nil)
	require.Equal(t, codeInsufficientReserve, resp.Error.Code)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	resp, err := http.Post(env.server.URL+"/rpc", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, codeParseError, out.Error.Code)

	status, rpcResp := env.call(t, "", "stake_unknown", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, rpcResp.Error.Code)

	_, rpcResp = env.call(t, "", "stake_getDepositInfo", map[string]string{"account": "nhb1notours"})
	require.Equal(t, codeInvalidParams, rpcResp.Error.Code)

	_, rpcResp = env.call(t, "", "stake_getTiers", map[string]string{"unexpected": "x"})
	require.Equal(t, codeInvalidParams, rpcResp.Error.Code)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 2})
	for i := 0; i < 2; i++ {
		status, _ := env.call(t, "", "stake_getTiers", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.call(t, "", "stake_getTiers", nil)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "ok")

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type recordingRPCMetrics struct {
	mu      sync.Mutex
	methods map[string]int
}

func (m *recordingRPCMetrics) ObserveRPC(method, _ string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods[method]++
}

func TestUnknownMethodsShareOneMetricLabel(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	rec := &recordingRPCMetrics{methods: map[string]int{}}
	env.rpc.SetMetrics(rec)

	for i := 0; i < 50; i++ {
		status, resp := env.call(t, "", fmt.Sprintf("junk_%d", i), nil)
		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, codeMethodNotFound, resp.Error.Code)
	}
	status, _ := env.call(t, "", "stake_getTiers", nil)
	require.Equal(t, http.StatusOK, status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, map[string]int{unknownMethod: 50, "stake_getTiers": 1}, rec.methods)
}
