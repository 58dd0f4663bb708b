package application

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/erigon-lib/kv"

	"github.com/0xAtelerix/yieldchain/application/db"
)

// Snapshots adapts a kv.RoDB to read-only views over db.Reader.
type Snapshots struct {
	DB kv.RoDB
}

func (s Snapshots) View(ctx context.Context, fn func(r db.Reader) error) error {
	return s.DB.View(ctx, func(tx kv.Tx) error {
		return fn(tx)
	})
}

// Feeder turns keeper updates into oracle transactions signed by the feeder
// account and queues them in the pool.
type Feeder struct {
	sender  common.Address
	pool    *TxPool
	metrics *Metrics
	nonce   atomic.Uint64
}

// NewFeeder starts nonces at start so a restarted node does not replay the hashes
// of transactions it already sent.
func NewFeeder(sender common.Address, pool *TxPool, metrics *Metrics, start uint64) *Feeder {
	f := &Feeder{
		sender:  sender,
		pool:    pool,
		metrics: metrics,
	}

	f.nonce.Store(start)

	return f
}

func (f *Feeder) PostPrice(ctx context.Context, asset common.Address, price *uint256.Int) error {
	if err := f.submit(ctx, KindSubmitPrice, AssetValuePayload{Asset: asset, Value: price}); err != nil {
		return err
	}

	f.metrics.observeSubmission(0, false)

	return nil
}

func (f *Feeder) PostTvl(ctx context.Context, value *uint256.Int) error {
	if err := f.submit(ctx, KindSubmitTvl, TvlPayload{Value: value}); err != nil {
		return err
	}

	f.metrics.observeSubmission(value.Float64(), true)

	return nil
}

func (f *Feeder) submit(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return f.pool.AddTransaction(ctx, Transaction{
		Sender:  f.sender,
		Kind:    kind,
		Payload: raw,
		Nonce:   f.nonce.Add(1),
	})
}
