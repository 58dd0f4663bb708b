package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// Pool is a deposit pool for one underlyer.
type Pool struct {
	ID      string         `cbor:"1,keyasint" json:"id"      yaml:"id"`
	Token   common.Address `cbor:"2,keyasint" json:"token"   yaml:"token"`
	Address common.Address `cbor:"3,keyasint" json:"address" yaml:"address"`
	// ReservePercentage of the pool's deployed value is kept idle in the pool.
	ReservePercentage uint8 `cbor:"4,keyasint" json:"reserve_percentage" yaml:"reserve_percentage"`
}

//nolint:gochecknoglobals // set scope
var poolSet = db.NewSet(db.SetPools, common.Address{})

// RegisterPool adds a pool or updates an existing one with the same id.
func (l *Ledger) RegisterPool(w db.Writer, ctx access.Context, p Pool) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	if p.ID == "" || p.Token == (common.Address{}) || p.Address == (common.Address{}) {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonZeroAddress, "pool %q", p.ID)
	}

	if p.ReservePercentage > 100 {
		return apperr.Newf(apperr.ErrInvalidState, "INVALID_PERCENTAGE", "reserve %d%%", p.ReservePercentage)
	}

	if _, ok, err := tokens.MetaOf(w, p.Token); err != nil {
		return err
	} else if !ok {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_TOKEN", "%s", p.Token.Hex())
	}

	if _, err := poolSet.Add(w, []byte(p.ID)); err != nil {
		return err
	}

	l.log.Debug().Str("pool", p.ID).Str("token", p.Token.Hex()).Msg("pool registered")

	return db.PutRecord(w, db.PoolsBucket, []byte(p.ID), p)
}

func (l *Ledger) RemovePool(w db.Writer, ctx access.Context, id string) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	removed, err := poolSet.Remove(w, []byte(id))
	if err != nil {
		return err
	}

	if !removed {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_POOL", "%q", id)
	}

	return w.Delete(db.PoolsBucket, []byte(id))
}

func (l *Ledger) Pool(r db.Reader, id string) (Pool, error) {
	var p Pool

	ok, err := db.GetRecord(r, db.PoolsBucket, []byte(id), &p)
	if err != nil {
		return Pool{}, err
	}

	if !ok {
		return Pool{}, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_POOL", "%q", id)
	}

	return p, nil
}

// Pools returns every pool in registration order.
func (l *Ledger) Pools(r db.Reader) ([]Pool, error) {
	ids, err := poolSet.Members(r)
	if err != nil {
		return nil, err
	}

	out := make([]Pool, 0, len(ids))

	for _, id := range ids {
		p, err := l.Pool(r, string(id))
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}

func (l *Ledger) pools(r db.Reader, ids []string) ([]Pool, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]Pool, 0, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonDuplicate, "pool %q", id)
		}

		seen[id] = struct{}{}

		p, err := l.Pool(r, id)
		if err != nil {
			return nil, err
		}

		out = append(out, p)
	}

	return out, nil
}
