package application

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/db"
)

//nolint:gochecknoglobals // fixed keys
var (
	headKey    = []byte("head")
	genesisKey = []byte("genesis")
)

// StateTransition applies transactions to the store one at a time and seals them
// into blocks. It keeps no state between calls.
type StateTransition struct {
	app     *Appchain
	metrics *Metrics
	log     zerolog.Logger
}

func NewStateTransition(app *Appchain, metrics *Metrics, log zerolog.Logger) *StateTransition {
	return &StateTransition{
		app:     app,
		metrics: metrics,
		log:     log.With().Str("component", "state-transition").Logger(),
	}
}

// ProcessTX applies one transaction. Failures are reported in the receipt and leave
// w untouched.
func (st *StateTransition) ProcessTX(tx Transaction, w db.Writer) Receipt {
	r := tx.Process(st.app, w)

	if r.TxStatus == ReceiptFailed {
		st.log.Warn().
			Str("hash", r.TxnHash.Hex()).
			Str("kind", r.Kind).
			Str("sender", r.Sender.Hex()).
			Str("error_kind", r.ErrorKind).
			Str("reason", r.Reason).
			Msg(r.ErrorMessage)
	} else {
		st.log.Debug().Str("hash", r.TxnHash.Hex()).Str("kind", r.Kind).Msg("transaction applied")
	}

	st.metrics.observeTx(r)

	return r
}

// ProcessBlock applies txs in order on top of the current head and stores the
// resulting block, its receipts and transactions.
func (st *StateTransition) ProcessBlock(w db.Writer, timestamp int64, txs []Transaction) (*Block, error) {
	head, err := ReadHead(w)
	if err != nil {
		return nil, err
	}

	number := uint64(1)

	var parent common.Hash

	if head != nil {
		number = head.BlockNum + 1
		parent = head.Hash()
	}

	receipts := make([]Receipt, 0, len(txs))

	for _, tx := range txs {
		r := st.ProcessTX(tx, w)
		r.Block = number

		receipts = append(receipts, r)
	}

	block, err := BlockConstructor(number, parent, timestamp, receipts)
	if err != nil {
		return nil, err
	}

	for i, r := range receipts {
		if err := writeJSON(w, db.ReceiptsBucket, r.TxnHash.Bytes(), r); err != nil {
			return nil, err
		}

		if err := writeJSON(w, db.TransactionsBucket, r.TxnHash.Bytes(), txs[i]); err != nil {
			return nil, err
		}
	}

	if err := writeJSON(w, db.BlocksBucket, db.BlockKey(number), block); err != nil {
		return nil, err
	}

	if err := w.Put(db.MetaBucket, headKey, db.BlockKey(number)); err != nil {
		return nil, err
	}

	st.metrics.observeBlock(block)

	st.log.Info().Uint64("number", number).Int("txs", len(txs)).Str("root", block.Root.Hex()).Msg("block sealed")

	return block, nil
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func writeJSON(w db.Writer, table string, key []byte, v marshaler) error {
	data, err := v.Marshal()
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}

	return w.Put(table, key, data)
}

// ReadHead returns the latest block, or nil before the first block.
func ReadHead(r db.Reader) (*Block, error) {
	key, err := r.GetOne(db.MetaBucket, headKey)
	if err != nil || len(key) == 0 {
		return nil, err
	}

	return readBlockKey(r, key)
}

func ReadBlock(r db.Reader, number uint64) (*Block, error) {
	return readBlockKey(r, db.BlockKey(number))
}

func readBlockKey(r db.Reader, key []byte) (*Block, error) {
	data, err := r.GetOne(db.BlocksBucket, key)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, ErrBlockNotFound
	}

	b := &Block{}
	if err := b.Unmarshal(data); err != nil {
		return nil, err
	}

	return b, nil
}

func ReadReceipt(r db.Reader, hash common.Hash) (Receipt, error) {
	var rec Receipt

	data, err := r.GetOne(db.ReceiptsBucket, hash.Bytes())
	if err != nil {
		return rec, err
	}

	if len(data) == 0 {
		return rec, ErrTxNotFound
	}

	return rec, rec.Unmarshal(data)
}

func ReadTransaction(r db.Reader, hash common.Hash) (Transaction, error) {
	var tx Transaction

	data, err := r.GetOne(db.TransactionsBucket, hash.Bytes())
	if err != nil {
		return tx, err
	}

	if len(data) == 0 {
		return tx, ErrTxNotFound
	}

	return tx, tx.Unmarshal(data)
}
