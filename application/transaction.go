package application

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// Transaction is one protocol operation: Kind names the operation, Payload holds its
// JSON arguments and Sender is the caller every authorization check runs against.
type Transaction struct {
	Sender  common.Address  `json:"sender"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Nonce   uint64          `json:"nonce"`
}

func (e *Transaction) Unmarshal(b []byte) error {
	return json.Unmarshal(b, e)
}

func (e Transaction) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Hash is keccak256(sender ‖ kind ‖ 0x00 ‖ payload ‖ nonce).
func (e Transaction) Hash() common.Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], e.Nonce)

	return crypto.Keccak256Hash(e.Sender.Bytes(), []byte(e.Kind), []byte{0}, e.Payload, nonce[:])
}

// Process runs the transaction against w. Effects are buffered and reach w only if
// the operation succeeds; a failure produces a failed receipt and no state change.
func (e Transaction) Process(app *Appchain, w db.Writer) Receipt {
	h, ok := kinds[e.Kind]
	if !ok {
		return e.failedReceipt(apperr.Newf(apperr.ErrNotFound, "UNKNOWN_KIND", "%q", e.Kind))
	}

	overlay := db.NewOverlay(w)

	result, err := h(app, overlay, access.As(e.Sender), e.Payload)
	if err != nil {
		return e.failedReceipt(err)
	}

	if err := overlay.Commit(); err != nil {
		return e.failedReceipt(err)
	}

	var raw json.RawMessage

	if result != nil {
		raw, err = json.Marshal(result)
		if err != nil {
			return e.failedReceipt(err)
		}
	}

	return e.successReceipt(raw)
}

func (e *Transaction) failedReceipt(err error) Receipt {
	return Receipt{
		TxnHash:      e.Hash(),
		Sender:       e.Sender,
		Kind:         e.Kind,
		TxStatus:     ReceiptFailed,
		ErrorKind:    string(apperr.KindOf(err)),
		Reason:       apperr.ReasonOf(err),
		ErrorMessage: err.Error(),
	}
}

func (e *Transaction) successReceipt(result json.RawMessage) Receipt {
	return Receipt{
		TxnHash:  e.Hash(),
		Sender:   e.Sender,
		Kind:     e.Kind,
		TxStatus: ReceiptConfirmed,
		Result:   result,
	}
}
