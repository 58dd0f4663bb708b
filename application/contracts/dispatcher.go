// Package contracts routes read-calls addressed to protocol-visible contracts.
//
// A contract is anything that answers ABI-encoded calls against the current state:
// hosted tokens, allocation providers and venue position providers. The
// dispatcher is how the allocation registry turns a stored (target, calldata)
// pair into a balance without knowing what sits behind the target.
package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// Contract answers ABI-encoded read calls.
type Contract interface {
	Call(r db.Reader, input []byte) ([]byte, error)
}

// Resolver finds contracts that are not bound explicitly, e.g. hosted tokens.
type Resolver func(r db.Reader, addr common.Address) (Contract, bool, error)

type Dispatcher struct {
	bound     map[common.Address]Contract
	resolvers []Resolver
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		bound: make(map[common.Address]Contract),
	}
}

// Bind places c at addr.
func (d *Dispatcher) Bind(addr common.Address, c Contract) {
	d.bound[addr] = c
}

func (d *Dispatcher) AddResolver(res Resolver) {
	d.resolvers = append(d.resolvers, res)
}

// Resolve returns the contract at addr.
func (d *Dispatcher) Resolve(r db.Reader, addr common.Address) (Contract, error) {
	if c, ok := d.bound[addr]; ok {
		return c, nil
	}

	for _, res := range d.resolvers {
		c, ok, err := res(r, addr)
		if err != nil {
			return nil, err
		}

		if ok {
			return c, nil
		}
	}

	return nil, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonNoCode, "%s", addr.Hex())
}

// Call executes input against the contract at to.
func (d *Dispatcher) Call(r db.Reader, to common.Address, input []byte) ([]byte, error) {
	c, err := d.Resolve(r, to)
	if err != nil {
		return nil, err
	}

	ret, err := c.Call(r, input)
	if err != nil {
		return nil, apperr.External(apperr.ReasonReverted, err)
	}

	return ret, nil
}

// CallUint256 packs method, calls to and decodes a single uint256 result.
func (d *Dispatcher) CallUint256(r db.Reader, to common.Address, a abi.ABI, method string, args ...any) (*uint256.Int, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, apperr.External(apperr.ReasonReverted, err)
	}

	ret, err := d.Call(r, to, input)
	if err != nil {
		return nil, err
	}

	return DecodeUint256(ret)
}

// CallString calls a method returning a single string.
func (d *Dispatcher) CallString(r db.Reader, to common.Address, a abi.ABI, method string, args ...any) (string, error) {
	values, err := d.callUnpack(r, to, a, method, args...)
	if err != nil {
		return "", err
	}

	s, ok := values[0].(string)
	if !ok {
		return "", apperr.Newf(apperr.ErrExternalCall, apperr.ReasonMalformedReturn, "%s: want string", method)
	}

	return s, nil
}

// CallUint8 calls a method returning a single uint8.
func (d *Dispatcher) CallUint8(r db.Reader, to common.Address, a abi.ABI, method string, args ...any) (uint8, error) {
	values, err := d.callUnpack(r, to, a, method, args...)
	if err != nil {
		return 0, err
	}

	v, ok := values[0].(uint8)
	if !ok {
		return 0, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonMalformedReturn, "%s: want uint8", method)
	}

	return v, nil
}

func (d *Dispatcher) callUnpack(r db.Reader, to common.Address, a abi.ABI, method string, args ...any) ([]any, error) {
	input, err := a.Pack(method, args...)
	if err != nil {
		return nil, apperr.External(apperr.ReasonReverted, err)
	}

	ret, err := d.Call(r, to, input)
	if err != nil {
		return nil, err
	}

	values, err := a.Unpack(method, ret)
	if err != nil {
		return nil, apperr.External(apperr.ReasonMalformedReturn, err)
	}

	if len(values) != 1 {
		return nil, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonMalformedReturn, "%s: %d values", method, len(values))
	}

	return values, nil
}

// Handler serves one ABI method. Arguments arrive decoded; results are packed by Serve.
type Handler func(args []any) ([]any, error)

// Serve decodes input against a, runs the matching handler and packs its outputs.
func Serve(a abi.ABI, input []byte, handlers map[string]Handler) ([]byte, error) {
	if len(input) < 4 {
		return nil, apperr.New(apperr.ErrExternalCall, apperr.ReasonReverted)
	}

	method, err := a.MethodById(input[:4])
	if err != nil {
		return nil, apperr.External(apperr.ReasonReverted, err)
	}

	h, ok := handlers[method.Name]
	if !ok {
		return nil, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonReverted, "no handler for %s", method.Name)
	}

	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, apperr.External(apperr.ReasonReverted, err)
	}

	out, err := h(args)
	if err != nil {
		return nil, err
	}

	return method.Outputs.Pack(out...)
}

// Word converts a uint256 into the *big.Int the ABI packer expects.
func Word(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v.ToBig()
}
