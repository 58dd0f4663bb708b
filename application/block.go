package application

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
)

// Block is a batch of transactions applied together. Root commits to the receipts.
type Block struct {
	BlockNum     uint64        `json:"number"`
	Parent       common.Hash   `json:"parent"`
	Root         common.Hash   `json:"root"`
	Timestamp    int64         `json:"timestamp"`
	Transactions []common.Hash `json:"transactions"`
}

func (b *Block) Number() uint64 {
	return b.BlockNum
}

// Hash is keccak256(number ‖ parent ‖ root ‖ timestamp).
func (b *Block) Hash() common.Hash {
	var num, ts [8]byte
	binary.BigEndian.PutUint64(num[:], b.BlockNum)
	binary.BigEndian.PutUint64(ts[:], uint64(b.Timestamp))

	return crypto.Keccak256Hash(num[:], b.Parent.Bytes(), b.Root.Bytes(), ts[:])
}

func (b *Block) StateRoot() common.Hash {
	return b.Root
}

func (b *Block) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

func (b *Block) Unmarshal(data []byte) error {
	return json.Unmarshal(data, b)
}

// BlockConstructor assembles the block that follows parent.
func BlockConstructor(
	blockNumber uint64,
	parent common.Hash,
	timestamp int64,
	receipts []Receipt,
) (*Block, error) {
	root, err := NewRootCalculator().ReceiptsRoot(receipts)
	if err != nil {
		return nil, err
	}

	hashes := make([]common.Hash, len(receipts))
	for i, r := range receipts {
		hashes[i] = r.TxnHash
	}

	return &Block{
		BlockNum:     blockNumber,
		Parent:       parent,
		Root:         root,
		Timestamp:    timestamp,
		Transactions: hashes,
	}, nil
}
