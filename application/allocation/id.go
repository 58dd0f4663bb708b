package allocation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ID identifies an allocation. It is derived from the allocation's target, lookup
// call and asset index, so the same triple always yields the same ID.
type ID [32]byte

func NewID(target common.Address, lookup []byte, index uint8) ID {
	return ID(crypto.Keccak256Hash(target.Bytes(), lookup, []byte{index}))
}

func (id ID) Bytes() []byte {
	return id[:]
}

// String returns the 0x-prefixed hex form.
func (id ID) String() string {
	return hexutil.Encode(id[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("allocation id %q: %w", text, err)
	}

	if len(b) != len(id) {
		return fmt.Errorf("allocation id %q: want %d bytes, got %d", text, len(id), len(b))
	}

	copy(id[:], b)

	return nil
}

func idFromBytes(b []byte) ID {
	var id ID
	copy(id[:], b)

	return id
}
