package application

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RootCalculator commits a block to the outcome of its transactions, so replicas
// applying the same batch can compare results by one hash.
type RootCalculator struct{}

func NewRootCalculator() *RootCalculator {
	return &RootCalculator{}
}

// ReceiptsRoot is keccak256 over the keccak256 of each encoded receipt, in order.
// An empty block has the zero root.
func (*RootCalculator) ReceiptsRoot(receipts []Receipt) (common.Hash, error) {
	if len(receipts) == 0 {
		return common.Hash{}, nil
	}

	leaves := make([][]byte, 0, len(receipts))

	for _, r := range receipts {
		b, err := r.Marshal()
		if err != nil {
			return common.Hash{}, err
		}

		leaves = append(leaves, crypto.Keccak256(b))
	}

	return crypto.Keccak256Hash(leaves...), nil
}
