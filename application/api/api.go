// Package api serves the chain over HTTP: a JSON-RPC endpoint for submitting
// transactions and reading state, a health probe and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application"
	"github.com/0xAtelerix/yieldchain/application/allocation"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/ledger"
	"github.com/0xAtelerix/yieldchain/application/oracle"
	"github.com/0xAtelerix/yieldchain/application/tokens"
	"github.com/0xAtelerix/yieldchain/application/zaps"
)

const maxBodyBytes = 1 << 20

// Backend is what the RPC server needs from a running node.
type Backend interface {
	AddTransaction(ctx context.Context, tx application.Transaction) error
	GetTransaction(ctx context.Context, hash common.Hash) (application.Transaction, error)
	GetTransactionStatus(ctx context.Context, hash common.Hash) (application.TxStatus, error)
	View(ctx context.Context, fn func(r db.Reader) error) error
	Appchain() *application.Appchain
}

// JSON-RPC request
type RPCRequest struct {
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	JSONRPC string          `json:"jsonrpc"`
}

// JSON-RPC response
type RPCResponse struct {
	ID      int       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
	JSONRPC string    `json:"jsonrpc"`
}

// RPCError carries the error taxonomy of a failed call.
type RPCError struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type method func(ctx context.Context, params json.RawMessage) (any, error)

type RPCServer struct {
	backend Backend
	methods map[string]method
	log     zerolog.Logger
}

func NewRPCServer(backend Backend, log zerolog.Logger) *RPCServer {
	s := &RPCServer{
		backend: backend,
		log:     log,
	}

	s.methods = map[string]method{
		SendTransactionMethod:       s.sendTransaction,
		GetTransactionByHashMethod:  s.getTransactionByHash,
		GetTransactionStatusMethod:  s.getTransactionStatus,
		GetTransactionReceiptMethod: s.getTransactionReceipt,
		GetBlockByNumberMethod:      s.getBlockByNumber,
		GetKindsMethod:              s.getKinds,
		GetTvlMethod:                s.getTvl,
		GetPriceMethod:              s.getPrice,
		GetOracleStatusMethod:       s.getOracleStatus,
		GetAllocationsMethod:        s.getAllocations,
		GetTokenBalanceMethod:       s.getTokenBalance,
		GetShareBalanceMethod:       s.getShareBalance,
		GetPoolsMethod:              s.getPools,
		GetRebalanceAmountsMethod:   s.getRebalanceAmounts,
		GetZapsMethod:               s.getZaps,
		GetRewardFeesMethod:         s.getRewardFees,
	}

	return s
}

func (s *RPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Only POST allowed", http.StatusMethodNotAllowed)

		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request", http.StatusBadRequest)

		return
	}
	defer r.Body.Close()

	var req RPCRequest

	if err = json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON-RPC request", http.StatusBadRequest)

		return
	}

	resp := RPCResponse{ID: req.ID, JSONRPC: "2.0"}

	m, ok := s.methods[req.Method]
	if !ok {
		resp.Error = &RPCError{Message: "Method not found: " + req.Method}
	} else {
		resp.Result, err = m(r.Context(), req.Params)
		if err != nil {
			resp.Result = nil
			resp.Error = rpcError(err)

			s.log.Debug().
				Err(err).
				Str("method", req.Method).
				Str("request_id", RequestIDFrom(r.Context())).
				Msg("rpc call failed")
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err = json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func rpcError(err error) *RPCError {
	return &RPCError{
		Message: err.Error(),
		Kind:    string(apperr.KindOf(err)),
		Reason:  apperr.ReasonOf(err),
	}
}

var errBadParams = errors.New("invalid parameters")

func decode[P any](params json.RawMessage) (P, error) {
	var p P

	if len(params) == 0 {
		return p, nil
	}

	if err := json.Unmarshal(params, &p); err != nil {
		return p, fmt.Errorf("%w: %s, %s", errBadParams, err.Error(), params)
	}

	return p, nil
}

// view runs fn against committed state and returns its result.
func view[T any](ctx context.Context, b Backend, fn func(r db.Reader) (T, error)) (T, error) {
	var out T

	err := b.View(ctx, func(r db.Reader) error {
		var err error

		out, err = fn(r)

		return err
	})

	return out, err
}

const SendTransactionMethod = "SendTransaction"

type SendTransactionRequest struct {
	Transaction application.Transaction `json:"transaction"`
}

type SendTransactionResult struct {
	Hash common.Hash `json:"hash"`
}

func (s *RPCServer) sendTransaction(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[SendTransactionRequest](params)
	if err != nil {
		return nil, err
	}

	if err = s.backend.AddTransaction(ctx, req.Transaction); err != nil {
		return nil, fmt.Errorf("failed to add transaction: %w, %s", err, spew.Sdump(req.Transaction))
	}

	return SendTransactionResult{Hash: req.Transaction.Hash()}, nil
}

const GetTransactionByHashMethod = "GetTransactionByHash"

type HashRequest struct {
	Hash common.Hash `json:"hash"`
}

func (s *RPCServer) getTransactionByHash(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[HashRequest](params)
	if err != nil {
		return nil, err
	}

	return s.backend.GetTransaction(ctx, req.Hash)
}

const GetTransactionStatusMethod = "GetTransactionStatus"

func (s *RPCServer) getTransactionStatus(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[HashRequest](params)
	if err != nil {
		return nil, err
	}

	return s.backend.GetTransactionStatus(ctx, req.Hash)
}

const GetTransactionReceiptMethod = "GetTransactionReceipt"

func (s *RPCServer) getTransactionReceipt(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[HashRequest](params)
	if err != nil {
		return nil, err
	}

	return view(ctx, s.backend, func(r db.Reader) (application.Receipt, error) {
		return application.ReadReceipt(r, req.Hash)
	})
}

const GetBlockByNumberMethod = "GetBlockByNumber"

// BlockRequest selects a block; zero means the head.
type BlockRequest struct {
	Number uint64 `json:"number"`
}

func (s *RPCServer) getBlockByNumber(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[BlockRequest](params)
	if err != nil {
		return nil, err
	}

	return view(ctx, s.backend, func(r db.Reader) (*application.Block, error) {
		if req.Number == 0 {
			head, err := application.ReadHead(r)
			if err == nil && head == nil {
				err = application.ErrBlockNotFound
			}

			return head, err
		}

		return application.ReadBlock(r, req.Number)
	})
}

const GetKindsMethod = "GetKinds"

func (s *RPCServer) getKinds(context.Context, json.RawMessage) (any, error) {
	return application.Kinds(), nil
}

const GetTvlMethod = "GetTvl"

func (s *RPCServer) getTvl(ctx context.Context, _ json.RawMessage) (any, error) {
	app := s.backend.Appchain()

	return view(ctx, s.backend, func(r db.Reader) (*uint256.Int, error) {
		return app.Oracle.GetTvl(r)
	})
}

const GetPriceMethod = "GetPrice"

type AssetRequest struct {
	Asset common.Address `json:"asset"`
}

func (s *RPCServer) getPrice(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[AssetRequest](params)
	if err != nil {
		return nil, err
	}

	app := s.backend.Appchain()

	return view(ctx, s.backend, func(r db.Reader) (*uint256.Int, error) {
		return app.Oracle.GetPrice(r, req.Asset)
	})
}

const GetOracleStatusMethod = "GetOracleStatus"

func (s *RPCServer) getOracleStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	app := s.backend.Appchain()

	return view(ctx, s.backend, func(r db.Reader) (oracle.Status, error) {
		return app.Oracle.Status(r)
	})
}

const GetAllocationsMethod = "GetAllocations"

type AllocationView struct {
	allocation.Allocation

	Balance *uint256.Int `json:"balance"`
}

func (s *RPCServer) getAllocations(ctx context.Context, _ json.RawMessage) (any, error) {
	reg := s.backend.Appchain().Registry

	return view(ctx, s.backend, func(r db.Reader) ([]AllocationView, error) {
		ids, err := reg.AllocationIDs(r)
		if err != nil {
			return nil, err
		}

		out := make([]AllocationView, 0, len(ids))

		for _, id := range ids {
			a, err := reg.Allocation(r, id)
			if err != nil {
				return nil, err
			}

			balance, err := reg.BalanceOf(r, id)
			if err != nil {
				return nil, err
			}

			out = append(out, AllocationView{Allocation: a, Balance: balance})
		}

		return out, nil
	})
}

const GetTokenBalanceMethod = "GetTokenBalance"

type TokenBalanceRequest struct {
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
}

func (s *RPCServer) getTokenBalance(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[TokenBalanceRequest](params)
	if err != nil {
		return nil, err
	}

	return view(ctx, s.backend, func(r db.Reader) (*uint256.Int, error) {
		return tokens.BalanceOf(r, req.Account, req.Token)
	})
}

const GetShareBalanceMethod = "GetShareBalance"

type HolderRequest struct {
	Holder common.Address `json:"holder"`
}

type ShareBalance struct {
	Balance     *uint256.Int `json:"balance"`
	TotalSupply *uint256.Int `json:"total_supply"`
}

func (s *RPCServer) getShareBalance(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[HolderRequest](params)
	if err != nil {
		return nil, err
	}

	return view(ctx, s.backend, func(r db.Reader) (ShareBalance, error) {
		balance, err := ledger.ShareBalanceOf(r, req.Holder)
		if err != nil {
			return ShareBalance{}, err
		}

		supply, err := ledger.TotalSupply(r)

		return ShareBalance{Balance: balance, TotalSupply: supply}, err
	})
}

const GetPoolsMethod = "GetPools"

func (s *RPCServer) getPools(ctx context.Context, _ json.RawMessage) (any, error) {
	l := s.backend.Appchain().Ledger

	return view(ctx, s.backend, func(r db.Reader) ([]ledger.Pool, error) {
		return l.Pools(r)
	})
}

const GetRebalanceAmountsMethod = "GetRebalanceAmounts"

type PoolsRequest struct {
	Pools []string `json:"pools"`
}

func (s *RPCServer) getRebalanceAmounts(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[PoolsRequest](params)
	if err != nil {
		return nil, err
	}

	l := s.backend.Appchain().Ledger

	return view(ctx, s.backend, func(r db.Reader) ([]ledger.Rebalance, error) {
		return l.RebalanceAmounts(r, req.Pools)
	})
}

const GetZapsMethod = "GetZaps"

func (s *RPCServer) getZaps(ctx context.Context, _ json.RawMessage) (any, error) {
	c := s.backend.Appchain().Catalogue

	return view(ctx, s.backend, func(r db.Reader) ([]zaps.Record, error) {
		return c.Zaps(r)
	})
}

const GetRewardFeesMethod = "GetRewardFees"

func (s *RPCServer) getRewardFees(ctx context.Context, _ json.RawMessage) (any, error) {
	c := s.backend.Appchain().Catalogue

	return view(ctx, s.backend, func(r db.Reader) ([]zaps.RewardFee, error) {
		return c.RewardFees(r)
	})
}
