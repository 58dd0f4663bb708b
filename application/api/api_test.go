package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xAtelerix/yieldchain/application"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/oracle"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	lpAccount = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	user      = common.HexToAddress("0x0000000000000000000000000000000000000101")
	dai       = common.HexToAddress("0x00000000000000000000000000000000000000da")
)

// memoryBackend serves a genesis state from memory and queues transactions
// without applying them.
type memoryBackend struct {
	app   *application.Appchain
	state *db.Overlay

	mu  sync.Mutex
	txs map[common.Hash]application.Transaction
}

func newMemoryBackend(t *testing.T) *memoryBackend {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)

	app, err := application.New(application.Config{LpAccount: lpAccount}, oracle.ClockFunc(func() time.Time {
		return now
	}), zerolog.Nop())
	require.NoError(t, err)

	state := db.NewMemory()

	require.NoError(t, application.ApplyGenesis(state, app, application.Genesis{
		Roles: map[string][]common.Address{"admin": {admin}},
		Tokens: []application.GenesisToken{{
			Address:  dai,
			Symbol:   "DAI",
			Decimals: 18,
			Balances: map[common.Address]*uint256.Int{lpAccount: uint256.NewInt(1_000)},
		}},
		TrackedTokens: []common.Address{dai},
		Prices:        map[common.Address]*uint256.Int{dai: uint256.NewInt(100_000_000)},
	}))

	return &memoryBackend{
		app:   app,
		state: state,
		txs:   make(map[common.Hash]application.Transaction),
	}
}

func (b *memoryBackend) AddTransaction(_ context.Context, tx application.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.txs[tx.Hash()]; ok {
		return application.ErrDuplicateTx
	}

	b.txs[tx.Hash()] = tx

	return nil
}

func (b *memoryBackend) GetTransaction(_ context.Context, hash common.Hash) (application.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.txs[hash]
	if !ok {
		return tx, application.ErrTxNotFound
	}

	return tx, nil
}

func (b *memoryBackend) GetTransactionStatus(ctx context.Context, hash common.Hash) (application.TxStatus, error) {
	if _, err := b.GetTransaction(ctx, hash); err != nil {
		return "", err
	}

	return application.TxPending, nil
}

func (b *memoryBackend) View(_ context.Context, fn func(r db.Reader) error) error {
	return fn(b.state)
}

func (b *memoryBackend) Appchain() *application.Appchain {
	return b.app
}

type rawResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func call(t *testing.T, h http.Handler, method string, params any) rawResponse {
	t.Helper()

	raw, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(RPCRequest{ID: 7, Method: method, Params: raw, JSONRPC: "2.0"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var resp rawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 7, resp.ID)

	return resp
}

func TestSendAndLookupTransaction(t *testing.T) {
	h := NewRouter(newMemoryBackend(t), nil, zerolog.Nop())

	payload, err := json.Marshal(application.TransferPayload{To: user, Token: dai, Amount: uint256.NewInt(5)})
	require.NoError(t, err)

	tx := application.Transaction{Sender: lpAccount, Kind: application.KindTransfer, Payload: payload, Nonce: 1}

	resp := call(t, h, SendTransactionMethod, SendTransactionRequest{Transaction: tx})
	require.Nil(t, resp.Error)

	var sent SendTransactionResult
	require.NoError(t, json.Unmarshal(resp.Result, &sent))
	require.Equal(t, tx.Hash(), sent.Hash)

	resp = call(t, h, SendTransactionMethod, SendTransactionRequest{Transaction: tx})
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, application.ErrDuplicateTx.Error())

	resp = call(t, h, GetTransactionByHashMethod, HashRequest{Hash: tx.Hash()})
	require.Nil(t, resp.Error)

	var got application.Transaction
	require.NoError(t, json.Unmarshal(resp.Result, &got))
	require.Equal(t, tx.Hash(), got.Hash())

	resp = call(t, h, GetTransactionStatusMethod, HashRequest{Hash: tx.Hash()})
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"pending"`, string(resp.Result))

	resp = call(t, h, GetTransactionStatusMethod, HashRequest{Hash: common.HexToHash("0x01")})
	require.NotNil(t, resp.Error)
}

func TestReadQueries(t *testing.T) {
	h := NewRouter(newMemoryBackend(t), nil, zerolog.Nop())

	resp := call(t, h, GetPriceMethod, AssetRequest{Asset: dai})
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"100000000"`, string(resp.Result))

	resp = call(t, h, GetTvlMethod, nil)
	require.NotNil(t, resp.Error)
	require.Equal(t, string(apperr.ErrNotFound), resp.Error.Kind)
	require.Equal(t, "UNKNOWN_SOURCE", resp.Error.Reason)

	resp = call(t, h, GetAllocationsMethod, nil)
	require.Nil(t, resp.Error)

	var allocations []AllocationView
	require.NoError(t, json.Unmarshal(resp.Result, &allocations))
	require.Len(t, allocations, 1)
	require.Equal(t, "DAI", allocations[0].Symbol)
	require.Equal(t, uint256.NewInt(1_000), allocations[0].Balance)

	resp = call(t, h, GetTokenBalanceMethod, TokenBalanceRequest{Token: dai, Account: lpAccount})
	require.Nil(t, resp.Error)
	require.JSONEq(t, `"1000"`, string(resp.Result))

	resp = call(t, h, GetShareBalanceMethod, HolderRequest{Holder: user})
	require.Nil(t, resp.Error)
	require.JSONEq(t, `{"balance":"0","total_supply":"0"}`, string(resp.Result))

	resp = call(t, h, GetOracleStatusMethod, nil)
	require.Nil(t, resp.Error)

	resp = call(t, h, GetBlockByNumberMethod, BlockRequest{})
	require.NotNil(t, resp.Error)
	require.Contains(t, resp.Error.Message, application.ErrBlockNotFound.Error())

	resp = call(t, h, GetKindsMethod, nil)
	require.Nil(t, resp.Error)

	var kinds []string
	require.NoError(t, json.Unmarshal(resp.Result, &kinds))
	require.Contains(t, kinds, application.KindDeployStrategy)

	resp = call(t, h, "Nope", nil)
	require.NotNil(t, resp.Error)
}

func TestRouterEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	application.NewMetrics(reg)

	h := NewRouter(newMemoryBackend(t), reg, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "yieldchain_block_height")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rpc", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte("{")))
	req.Header.Set(RequestIDHeader, "3f1b1c4e-5d0c-4b7a-9f0e-2a6f4f7b8c11")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "3f1b1c4e-5d0c-4b7a-9f0e-2a6f4f7b8c11", rec.Header().Get(RequestIDHeader))
}
