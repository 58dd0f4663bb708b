package db

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
)

// Reader is the read side of the state store. kv.Tx satisfies it.
type Reader interface {
	GetOne(table string, key []byte) ([]byte, error)
	ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error
}

// Writer is the write side of the state store. kv.RwTx satisfies it.
type Writer interface {
	Reader
	Put(table string, k, v []byte) error
	Delete(table string, k []byte) error
}

type entry struct {
	value   []byte
	deleted bool
}

// Overlay buffers writes on top of a base store. Reads see buffered writes first.
// Nothing reaches the base until Commit, so an operation that fails half way can
// simply drop its overlay. A nil base makes the overlay a standalone memory store.
type Overlay struct {
	base   Writer
	tables map[string]map[string]entry
}

func NewOverlay(base Writer) *Overlay {
	return &Overlay{
		base:   base,
		tables: make(map[string]map[string]entry),
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Overlay {
	return NewOverlay(nil)
}

func (o *Overlay) GetOne(table string, key []byte) ([]byte, error) {
	if e, ok := o.tables[table][string(key)]; ok {
		if e.deleted {
			return nil, nil
		}

		return e.value, nil
	}

	if o.base == nil {
		return nil, nil
	}

	return o.base.GetOne(table, key)
}

func (o *Overlay) ForPrefix(table string, prefix []byte, walker func(k, v []byte) error) error {
	merged := make(map[string][]byte)

	if o.base != nil {
		err := o.base.ForPrefix(table, prefix, func(k, v []byte) error {
			merged[string(k)] = bytes.Clone(v)

			return nil
		})
		if err != nil {
			return err
		}
	}

	for k, e := range o.tables[table] {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}

		if e.deleted {
			delete(merged, k)

			continue
		}

		merged[k] = e.value
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if err := walker([]byte(k), merged[k]); err != nil {
			return err
		}
	}

	return nil
}

func (o *Overlay) Put(table string, k, v []byte) error {
	o.table(table)[string(k)] = entry{value: bytes.Clone(v)}

	return nil
}

func (o *Overlay) Delete(table string, k []byte) error {
	o.table(table)[string(k)] = entry{deleted: true}

	return nil
}

// Commit flushes the buffered writes into the base in key order and resets the overlay.
func (o *Overlay) Commit() error {
	if o.base == nil {
		return nil
	}

	tableNames := make([]string, 0, len(o.tables))
	for name := range o.tables {
		tableNames = append(tableNames, name)
	}

	sort.Strings(tableNames)

	for _, name := range tableNames {
		entries := o.tables[name]

		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			e := entries[k]

			var err error
			if e.deleted {
				err = o.base.Delete(name, []byte(k))
			} else {
				err = o.base.Put(name, []byte(k), e.value)
			}

			if err != nil {
				return fmt.Errorf("commit %s: %w", name, err)
			}
		}
	}

	o.tables = make(map[string]map[string]entry)

	return nil
}

// Len reports the number of buffered writes.
func (o *Overlay) Len() int {
	n := 0
	for _, t := range o.tables {
		n += len(t)
	}

	return n
}

func (o *Overlay) table(name string) map[string]entry {
	t, ok := o.tables[name]
	if !ok {
		t = make(map[string]entry)
		o.tables[name] = t
	}

	return t
}

// Atomic runs fn against an overlay of w and commits it only when fn succeeds.
func Atomic(w Writer, fn func(w Writer) error) error {
	o := NewOverlay(w)
	if err := fn(o); err != nil {
		return err
	}

	return o.Commit()
}

// GetRecord decodes a CBOR record. It reports false when the key is absent.
func GetRecord(r Reader, table string, key []byte, v any) (bool, error) {
	data, err := r.GetOne(table, key)
	if err != nil {
		return false, err
	}

	if len(data) == 0 {
		return false, nil
	}

	if err := cbor.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s record: %w", table, err)
	}

	return true, nil
}

// PutRecord stores v as CBOR.
func PutRecord(w Writer, table string, key []byte, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}

	return w.Put(table, key, data)
}

// GetUint reads a uint256 value; absent keys read as zero.
func GetUint(r Reader, table string, key []byte) (*uint256.Int, error) {
	data, err := r.GetOne(table, key)
	if err != nil {
		return nil, err
	}

	v := &uint256.Int{}
	v.SetBytes(data)

	return v, nil
}

// PutUint stores a uint256 value; zero values are deleted.
func PutUint(w Writer, table string, key []byte, v *uint256.Int) error {
	if v == nil || v.IsZero() {
		return w.Delete(table, key)
	}

	return w.Put(table, key, v.Bytes())
}
