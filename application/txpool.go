package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/erigon-lib/kv"

	"github.com/0xAtelerix/yieldchain/application/db"
)

const DefaultPoolCapacity = 10_000

// TxStatus is where a transaction is in its lifecycle.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = TxStatus(ReceiptConfirmed)
	TxFailed    TxStatus = TxStatus(ReceiptFailed)
)

var (
	poolSeqKey = []byte("txpool/seq")
	poolLenKey = []byte("txpool/len")

	errStopWalk = errors.New("stop")
)

// TxPool queues transactions for the next block in arrival order. Pending
// transactions live in the state database, so they survive a restart and leave
// the pool in the same write transaction that seals them into a block.
type TxPool struct {
	store    kv.RwDB
	capacity int
	metrics  *Metrics
}

func NewTxPool(store kv.RwDB, capacity int, metrics *Metrics) *TxPool {
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}

	return &TxPool{
		store:    store,
		capacity: capacity,
		metrics:  metrics,
	}
}

// AddTransaction queues tx. A transaction with the same hash that is pending or
// already included is rejected with ErrDuplicateTx.
func (p *TxPool) AddTransaction(ctx context.Context, tx Transaction) error {
	hash := tx.Hash()

	data, err := tx.Marshal()
	if err != nil {
		return err
	}

	var pending uint64

	err = p.store.Update(ctx, func(rw kv.RwTx) error {
		known, err := p.known(rw, hash)
		if err != nil {
			return err
		}

		if known {
			return ErrDuplicateTx
		}

		n, err := db.GetUint(rw, db.MetaBucket, poolLenKey)
		if err != nil {
			return err
		}

		if n.Uint64() >= uint64(p.capacity) {
			return ErrPoolFull
		}

		seq, err := db.GetUint(rw, db.MetaBucket, poolSeqKey)
		if err != nil {
			return err
		}

		seq.AddUint64(seq, 1)
		key := db.BlockKey(seq.Uint64())

		if err := rw.Put(db.PendingTxBucket, key, data); err != nil {
			return err
		}

		if err := rw.Put(db.PendingIndexBucket, hash.Bytes(), key); err != nil {
			return err
		}

		if err := db.PutUint(rw, db.MetaBucket, poolSeqKey, seq); err != nil {
			return err
		}

		pending = n.Uint64() + 1

		return db.PutUint(rw, db.MetaBucket, poolLenKey, uint256.NewInt(pending))
	})
	if err != nil {
		return err
	}

	p.metrics.setPending(int(pending)) //nolint:gosec // bounded by capacity

	return nil
}

func (*TxPool) known(r db.Reader, hash common.Hash) (bool, error) {
	seq, err := r.GetOne(db.PendingIndexBucket, hash.Bytes())
	if err != nil || len(seq) > 0 {
		return len(seq) > 0, err
	}

	rec, err := r.GetOne(db.ReceiptsBucket, hash.Bytes())

	return len(rec) > 0, err
}

// GetTransaction returns a pending or included transaction.
func (p *TxPool) GetTransaction(ctx context.Context, hash common.Hash) (Transaction, error) {
	var tx Transaction

	err := p.store.View(ctx, func(r kv.Tx) error {
		data, err := pendingData(r, hash)
		if err != nil {
			return err
		}

		if data != nil {
			return tx.Unmarshal(data)
		}

		tx, err = ReadTransaction(r, hash)

		return err
	})

	return tx, err
}

func pendingData(r db.Reader, hash common.Hash) ([]byte, error) {
	seq, err := r.GetOne(db.PendingIndexBucket, hash.Bytes())
	if err != nil || len(seq) == 0 {
		return nil, err
	}

	data, err := r.GetOne(db.PendingTxBucket, seq)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("pending index points at missing entry %x", seq)
	}

	return data, nil
}

// GetTransactionStatus reports pending, confirmed or failed. Unknown hashes return
// ErrTxNotFound.
func (p *TxPool) GetTransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	var status TxStatus

	err := p.store.View(ctx, func(r kv.Tx) error {
		seq, err := r.GetOne(db.PendingIndexBucket, hash.Bytes())
		if err != nil {
			return err
		}

		if len(seq) > 0 {
			status = TxPending

			return nil
		}

		rec, err := ReadReceipt(r, hash)
		if err != nil {
			return err
		}

		status = TxStatus(rec.TxStatus)

		return nil
	})

	return status, err
}

// Len is the number of pending transactions.
func (p *TxPool) Len(ctx context.Context) (int, error) {
	var n *uint256.Int

	err := p.store.View(ctx, func(r kv.Tx) error {
		var err error

		n, err = db.GetUint(r, db.MetaBucket, poolLenKey)

		return err
	})
	if err != nil {
		return 0, err
	}

	return int(n.Uint64()), nil //nolint:gosec // bounded by capacity
}

// Pending returns up to limit queued transactions, oldest first. A limit of zero
// returns everything.
func (*TxPool) Pending(r db.Reader, limit int) ([]Transaction, error) {
	var out []Transaction

	err := r.ForPrefix(db.PendingTxBucket, nil, func(_, v []byte) error {
		var tx Transaction
		if err := tx.Unmarshal(v); err != nil {
			return err
		}

		out = append(out, tx)

		if limit > 0 && len(out) >= limit {
			return errStopWalk
		}

		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return nil, err
	}

	return out, nil
}

// Remove drops txs from the pool and returns how many remain pending.
func (*TxPool) Remove(w db.Writer, txs []Transaction) (int, error) {
	n, err := db.GetUint(w, db.MetaBucket, poolLenKey)
	if err != nil {
		return 0, err
	}

	for _, tx := range txs {
		hash := tx.Hash()

		seq, err := w.GetOne(db.PendingIndexBucket, hash.Bytes())
		if err != nil {
			return 0, err
		}

		if len(seq) == 0 {
			continue
		}

		if err := w.Delete(db.PendingTxBucket, seq); err != nil {
			return 0, err
		}

		if err := w.Delete(db.PendingIndexBucket, hash.Bytes()); err != nil {
			return 0, err
		}

		if !n.IsZero() {
			n.SubUint64(n, 1)
		}
	}

	if err := db.PutUint(w, db.MetaBucket, poolLenKey, n); err != nil {
		return 0, err
	}

	return int(n.Uint64()), nil //nolint:gosec // bounded by capacity
}
