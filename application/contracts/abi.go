package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
)

const erc20JSON = `[` +
	`{"type":"function","name":"balanceOf","stateMutability":"view",` +
	`"inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},` +
	`{"type":"function","name":"totalSupply","stateMutability":"view",` +
	`"inputs":[],"outputs":[{"name":"","type":"uint256"}]},` +
	`{"type":"function","name":"symbol","stateMutability":"view",` +
	`"inputs":[],"outputs":[{"name":"","type":"string"}]},` +
	`{"type":"function","name":"decimals","stateMutability":"view",` +
	`"inputs":[],"outputs":[{"name":"","type":"uint8"}]}` +
	`]`

const allocationJSON = `[` +
	`{"type":"function","name":"balanceOf","stateMutability":"view",` +
	`"inputs":[{"name":"account","type":"address"},{"name":"tokenIndex","type":"uint8"}],` +
	`"outputs":[{"name":"","type":"uint256"}]},` +
	`{"type":"function","name":"numberOfTokens","stateMutability":"view",` +
	`"inputs":[],"outputs":[{"name":"","type":"uint256"}]},` +
	`{"type":"function","name":"symbolOf","stateMutability":"view",` +
	`"inputs":[{"name":"tokenIndex","type":"uint8"}],"outputs":[{"name":"","type":"string"}]},` +
	`{"type":"function","name":"decimalsOf","stateMutability":"view",` +
	`"inputs":[{"name":"tokenIndex","type":"uint8"}],"outputs":[{"name":"","type":"uint8"}]}` +
	`]`

//nolint:gochecknoglobals // parsed once, read-only afterwards
var (
	// ERC20ABI is the read surface of a token contract.
	ERC20ABI = mustParse(erc20JSON)
	// AllocationABI is the read surface of an allocation provider.
	AllocationABI = mustParse(allocationJSON)

	uint256Type = mustType("uint256")
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}

	return parsed
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", name, err))
	}

	return t
}

// SystemAddress derives a deterministic address for a named protocol component by
// hashing the name with Keccak256 and taking the last 20 bytes.
func SystemAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256Hash([]byte(name)).Bytes())
}

// DecodeUint256 decodes a return value that must be exactly one ABI uint256 word.
func DecodeUint256(ret []byte) (*uint256.Int, error) {
	if len(ret) != 32 {
		return nil, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonMalformedReturn, "got %d bytes", len(ret))
	}

	values, err := abi.Arguments{{Type: uint256Type}}.Unpack(ret)
	if err != nil {
		return nil, apperr.External(apperr.ReasonMalformedReturn, err)
	}

	return ToUint256(values[0])
}

// ToUint256 converts an ABI-decoded *big.Int into a uint256.
func ToUint256(v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonMalformedReturn, "want uint256, got %T", v)
	}

	out, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return nil, apperr.New(apperr.ErrExternalCall, apperr.ReasonMalformedReturn)
	}

	return out, nil
}

// MustPack packs a call whose arguments are known to be well formed.
func MustPack(a abi.ABI, method string, args ...any) []byte {
	data, err := a.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", method, err))
	}

	return data
}
