package application

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
)

type ReceiptStatus string

const (
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptFailed    ReceiptStatus = "failed"
)

//nolint:errname // Receipt is not an error type, it just implements Error() method for failed transactions
type Receipt struct {
	TxnHash      common.Hash     `json:"hash"`
	Sender       common.Address  `json:"sender"`
	Kind         string          `json:"kind"`
	Block        uint64          `json:"block"`
	TxStatus     ReceiptStatus   `json:"status"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

func (r Receipt) TxHash() common.Hash {
	return r.TxnHash
}

func (r Receipt) Status() ReceiptStatus {
	return r.TxStatus
}

func (r Receipt) Error() string {
	return r.ErrorMessage
}

func (r Receipt) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func (r *Receipt) Unmarshal(b []byte) error {
	return json.Unmarshal(b, r)
}
