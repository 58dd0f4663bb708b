package db

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Set kinds. Every scope is one kind byte followed by a 20-byte owner, so no scope
// is a prefix of another.
const (
	SetAllocationIDs byte = iota + 1
	SetProviders
	SetProviderTokens
	SetPools
	SetZaps
	SetRewardTokens
	SetProviderAllocations
)

// Set is an insertion-ordered set of byte strings with an existence index.
// Members live under scope+seq, the index under scope+member.
type Set struct {
	scope []byte
}

func NewSet(kind byte, owner common.Address) Set {
	scope := make([]byte, 0, 1+common.AddressLength)
	scope = append(scope, kind)

	return Set{scope: append(scope, owner.Bytes()...)}
}

// Add inserts member and reports whether it was new.
func (s Set) Add(w Writer, member []byte) (bool, error) {
	ok, err := s.Has(w, member)
	if err != nil || ok {
		return false, err
	}

	seq, err := s.next(w)
	if err != nil {
		return false, err
	}

	if err := w.Put(SetMembersBucket, s.memberKey(seq), member); err != nil {
		return false, err
	}

	if err := w.Put(SetIndexBucket, s.indexKey(member), seq); err != nil {
		return false, err
	}

	return true, nil
}

// Remove deletes member and reports whether it was present.
func (s Set) Remove(w Writer, member []byte) (bool, error) {
	seq, err := w.GetOne(SetIndexBucket, s.indexKey(member))
	if err != nil || len(seq) == 0 {
		return false, err
	}

	if err := w.Delete(SetMembersBucket, s.memberKey(seq)); err != nil {
		return false, err
	}

	if err := w.Delete(SetIndexBucket, s.indexKey(member)); err != nil {
		return false, err
	}

	return true, nil
}

func (s Set) Has(r Reader, member []byte) (bool, error) {
	seq, err := r.GetOne(SetIndexBucket, s.indexKey(member))
	if err != nil {
		return false, err
	}

	return len(seq) > 0, nil
}

// Members returns the members in insertion order.
func (s Set) Members(r Reader) ([][]byte, error) {
	var members [][]byte

	err := r.ForPrefix(SetMembersBucket, s.scope, func(_, v []byte) error {
		members = append(members, bytes.Clone(v))

		return nil
	})
	if err != nil {
		return nil, err
	}

	return members, nil
}

func (s Set) Len(r Reader) (int, error) {
	members, err := s.Members(r)

	return len(members), err
}

func (s Set) next(w Writer) ([]byte, error) {
	key := append([]byte("seq/"), s.scope...)

	data, err := w.GetOne(MetaBucket, key)
	if err != nil {
		return nil, err
	}

	var n uint64
	if len(data) == 8 {
		n = binary.BigEndian.Uint64(data)
	}

	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, n+1)

	if err := w.Put(MetaBucket, key, seq); err != nil {
		return nil, err
	}

	return seq, nil
}

func (s Set) memberKey(seq []byte) []byte {
	key := make([]byte, 0, len(s.scope)+len(seq))
	key = append(key, s.scope...)

	return append(key, seq...)
}

func (s Set) indexKey(member []byte) []byte {
	key := make([]byte, 0, len(s.scope)+len(member))
	key = append(key, s.scope...)

	return append(key, member...)
}
