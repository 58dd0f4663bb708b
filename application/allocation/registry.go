// Package allocation keeps the catalogue of asset allocations: named lookups that
// turn a read call against some contract into the balance of one tracked position.
//
// Allocations come from two places. Admins add raw allocations, an arbitrary
// (target, call) pair. Registered providers contribute one allocation per token
// they report, looked up with balanceOf(lpAccount, index) against the provider.
// Every membership change locks the oracle, since the last TVL reading no longer
// covers the same set of positions.
package allocation

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// Locker is the part of the oracle the registry drives.
type Locker interface {
	Lock(w db.Writer) error
}

type Allocation struct {
	ID       ID             `cbor:"1,keyasint" json:"id"`
	Target   common.Address `cbor:"2,keyasint" json:"target"`
	Lookup   []byte         `cbor:"3,keyasint" json:"lookup"`
	Index    uint8          `cbor:"4,keyasint" json:"index"`
	Symbol   string         `cbor:"5,keyasint" json:"symbol"`
	Decimals uint8          `cbor:"6,keyasint" json:"decimals"`
	Provided bool           `cbor:"7,keyasint" json:"provided"`
}

type Registry struct {
	account common.Address
	calls   *contracts.Dispatcher
	oracle  Locker
	log     zerolog.Logger

	ids       db.Set
	providers db.Set
}

// NewRegistry creates a registry whose provider lookups query account's holdings.
func NewRegistry(account common.Address, calls *contracts.Dispatcher, oracle Locker, log zerolog.Logger) *Registry {
	return &Registry{
		account:   account,
		calls:     calls,
		oracle:    oracle,
		log:       log.With().Str("component", "allocations").Logger(),
		ids:       db.NewSet(db.SetAllocationIDs, common.Address{}),
		providers: db.NewSet(db.SetProviders, common.Address{}),
	}
}

func (reg *Registry) Account() common.Address {
	return reg.account
}

// Register adds a provider and the allocations it currently reports.
func (reg *Registry) Register(w db.Writer, ctx access.Context, provider common.Address) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	if provider == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	if _, err := reg.calls.Resolve(w, provider); err != nil {
		return err
	}

	added, err := reg.providers.Add(w, provider.Bytes())
	if err != nil {
		return err
	}

	changed, err := reg.sync(w, provider)
	if err != nil {
		return err
	}

	if added || changed {
		reg.log.Debug().Str("provider", provider.Hex()).Msg("provider registered")

		return reg.oracle.Lock(w)
	}

	return nil
}

// Deregister removes a provider together with every allocation it contributed.
func (reg *Registry) Deregister(w db.Writer, ctx access.Context, provider common.Address) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	removed, err := reg.providers.Remove(w, provider.Bytes())
	if err != nil {
		return err
	}

	if !removed {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_PROVIDER", "%s", provider.Hex())
	}

	owned := db.NewSet(db.SetProviderAllocations, provider)

	members, err := owned.Members(w)
	if err != nil {
		return err
	}

	for _, m := range members {
		if err := reg.drop(w, idFromBytes(m)); err != nil {
			return err
		}
	}

	return reg.oracle.Lock(w)
}

// Sync reconciles a registered provider's allocations with the tokens it reports.
// Providers call it after every change to their token set. Unregistered providers
// are ignored.
func (reg *Registry) Sync(w db.Writer, provider common.Address) error {
	registered, err := reg.providers.Has(w, provider.Bytes())
	if err != nil || !registered {
		return err
	}

	changed, err := reg.sync(w, provider)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	return reg.oracle.Lock(w)
}

func (reg *Registry) sync(w db.Writer, provider common.Address) (bool, error) {
	n, err := reg.calls.CallUint256(w, provider, contracts.AllocationABI, "numberOfTokens")
	if err != nil {
		return false, err
	}

	if !n.IsUint64() || n.Uint64() > 255 {
		return false, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonMalformedReturn, "numberOfTokens %s", n)
	}

	count := int(n.Uint64())
	owned := db.NewSet(db.SetProviderAllocations, provider)
	want := make(map[ID]struct{}, count)
	changed := false

	for i := 0; i < count; i++ {
		index := uint8(i)

		symbol, err := reg.calls.CallString(w, provider, contracts.AllocationABI, "symbolOf", index)
		if err != nil {
			return false, err
		}

		decimals, err := reg.calls.CallUint8(w, provider, contracts.AllocationABI, "decimalsOf", index)
		if err != nil {
			return false, err
		}

		lookup, err := contracts.AllocationABI.Pack("balanceOf", reg.account, index)
		if err != nil {
			return false, apperr.External(apperr.ReasonReverted, err)
		}

		a := Allocation{
			ID:       NewID(provider, lookup, index),
			Target:   provider,
			Lookup:   lookup,
			Index:    index,
			Symbol:   symbol,
			Decimals: decimals,
			Provided: true,
		}
		want[a.ID] = struct{}{}

		updated, err := reg.put(w, a)
		if err != nil {
			return false, err
		}

		if _, err := owned.Add(w, a.ID.Bytes()); err != nil {
			return false, err
		}

		changed = changed || updated
	}

	members, err := owned.Members(w)
	if err != nil {
		return false, err
	}

	for _, m := range members {
		id := idFromBytes(m)
		if _, ok := want[id]; ok {
			continue
		}

		if err := reg.drop(w, id); err != nil {
			return false, err
		}

		changed = true
	}

	return changed, nil
}

// put stores a and reports whether anything observable changed.
func (reg *Registry) put(w db.Writer, a Allocation) (bool, error) {
	var existing Allocation

	ok, err := db.GetRecord(w, db.AllocationsBucket, a.ID.Bytes(), &existing)
	if err != nil {
		return false, err
	}

	if ok && existing.Symbol == a.Symbol && existing.Decimals == a.Decimals {
		return false, nil
	}

	if err := db.PutRecord(w, db.AllocationsBucket, a.ID.Bytes(), a); err != nil {
		return false, err
	}

	if _, err := reg.ids.Add(w, a.ID.Bytes()); err != nil {
		return false, err
	}

	return true, nil
}

func (reg *Registry) drop(w db.Writer, id ID) error {
	var a Allocation

	ok, err := db.GetRecord(w, db.AllocationsBucket, id.Bytes(), &a)
	if err != nil || !ok {
		return err
	}

	if a.Provided {
		if _, err := db.NewSet(db.SetProviderAllocations, a.Target).Remove(w, id.Bytes()); err != nil {
			return err
		}
	}

	if _, err := reg.ids.Remove(w, id.Bytes()); err != nil {
		return err
	}

	return w.Delete(db.AllocationsBucket, id.Bytes())
}

// AddAllocation registers a raw lookup against target. Adding the same lookup twice
// returns the existing id.
func (reg *Registry) AddAllocation(
	w db.Writer,
	ctx access.Context,
	target common.Address,
	lookup []byte,
	symbol string,
	decimals uint8,
) (ID, error) {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return ID{}, err
	}

	if target == (common.Address{}) {
		return ID{}, apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	if len(lookup) < 4 {
		return ID{}, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidLength, "lookup of %d bytes", len(lookup))
	}

	id := NewID(target, lookup, 0)

	exists, err := reg.ids.Has(w, id.Bytes())
	if err != nil {
		return ID{}, err
	}

	if exists {
		return id, nil
	}

	a := Allocation{
		ID:       id,
		Target:   target,
		Lookup:   bytes.Clone(lookup),
		Symbol:   symbol,
		Decimals: decimals,
	}

	if _, err := reg.put(w, a); err != nil {
		return ID{}, err
	}

	reg.log.Debug().Stringer("id", id).Str("symbol", symbol).Msg("allocation added")

	return id, reg.oracle.Lock(w)
}

// RemoveAllocation removes a raw allocation. Unknown ids fail with NotFound.
// Allocations contributed by a provider follow its token set and are removed
// through the provider or by deregistering it.
func (reg *Registry) RemoveAllocation(w db.Writer, ctx access.Context, id ID) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	a, err := reg.Allocation(w, id)
	if err != nil {
		return err
	}

	if a.Provided {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonProvided, "allocation %s belongs to provider %s",
			id, a.Target.Hex())
	}

	if err := reg.drop(w, id); err != nil {
		return err
	}

	return reg.oracle.Lock(w)
}

// AllocationIDs returns all ids in registration order.
func (reg *Registry) AllocationIDs(r db.Reader) ([]ID, error) {
	members, err := reg.ids.Members(r)
	if err != nil {
		return nil, err
	}

	ids := make([]ID, 0, len(members))
	for _, m := range members {
		ids = append(ids, idFromBytes(m))
	}

	return ids, nil
}

func (reg *Registry) Allocation(r db.Reader, id ID) (Allocation, error) {
	var a Allocation

	ok, err := db.GetRecord(r, db.AllocationsBucket, id.Bytes(), &a)
	if err != nil {
		return Allocation{}, err
	}

	if !ok {
		return Allocation{}, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_ALLOCATION", "%s", id)
	}

	return a, nil
}

func (reg *Registry) Providers(r db.Reader) ([]common.Address, error) {
	members, err := reg.providers.Members(r)
	if err != nil {
		return nil, err
	}

	out := make([]common.Address, 0, len(members))
	for _, m := range members {
		out = append(out, common.BytesToAddress(m))
	}

	return out, nil
}

// BalanceOf executes the allocation's lookup and decodes a single uint256.
func (reg *Registry) BalanceOf(r db.Reader, id ID) (*uint256.Int, error) {
	a, err := reg.Allocation(r, id)
	if err != nil {
		return nil, err
	}

	ret, err := reg.calls.Call(r, a.Target, a.Lookup)
	if err != nil {
		return nil, err
	}

	return contracts.DecodeUint256(ret)
}

func (reg *Registry) SymbolOf(r db.Reader, id ID) (string, error) {
	a, err := reg.Allocation(r, id)

	return a.Symbol, err
}

func (reg *Registry) DecimalsOf(r db.Reader, id ID) (uint8, error) {
	a, err := reg.Allocation(r, id)

	return a.Decimals, err
}
