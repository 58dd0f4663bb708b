package venues

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// MetaPool pairs a primary coin with the LP token of a base pool. Its underlyers
// are the primary coin followed by the base pool's coins.
type MetaPool struct {
	*StableSwap

	base *StableSwap
}

func NewMetaPool(meta *StableSwap, base *StableSwap) (*MetaPool, error) {
	if len(meta.coins) != 2 || meta.coins[1] != base.LpToken() {
		return nil, apperr.Newf(apperr.ErrInvalidState, "INVALID_METAPOOL",
			"metapool %s must pair a primary coin with base lp %s", meta.address.Hex(), base.LpToken().Hex())
	}

	return &MetaPool{StableSwap: meta, base: base}, nil
}

func (m *MetaPool) Base() *StableSwap {
	return m.base
}

func (m *MetaPool) Primary() common.Address {
	return m.coins[0]
}

// Underlyers returns the primary coin followed by the base coins.
func (m *MetaPool) Underlyers() []common.Address {
	return append([]common.Address{m.coins[0]}, m.base.Coins()...)
}

// AddLiquidityUnderlying deposits underlyer amounts: base coins go through the base
// pool first, and the resulting base LP joins the primary amount in the metapool.
func (m *MetaPool) AddLiquidityUnderlying(w db.Writer, from common.Address, amounts []*uint256.Int) (*uint256.Int, error) {
	n := len(m.base.coins) + 1
	if len(amounts) != n {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidLength, "%d amounts for %d underlyers", len(amounts), n)
	}

	baseLp := new(uint256.Int)

	if anyNonZero(amounts[1:]) {
		var err error

		baseLp, err = m.base.AddLiquidity(w, from, amounts[1:])
		if err != nil {
			return nil, err
		}
	}

	return m.AddLiquidity(w, from, []*uint256.Int{amounts[0], baseLp})
}

// RemoveLiquidityUnderlying burns lpAmount of metapool LP and pays out underlyer index.
func (m *MetaPool) RemoveLiquidityUnderlying(w db.Writer, from common.Address, lpAmount *uint256.Int, index int) (*uint256.Int, error) {
	if index == 0 {
		return m.RemoveLiquidityOneCoin(w, from, lpAmount, 0)
	}

	if index < 0 || index > len(m.base.coins) {
		return nil, apperr.Newf(apperr.ErrInvalidState, "INVALID_INDEX", "underlyer %d", index)
	}

	baseLp, err := m.RemoveLiquidityOneCoin(w, from, lpAmount, 1)
	if err != nil {
		return nil, err
	}

	return m.base.RemoveLiquidityOneCoin(w, from, baseLp, index-1)
}

// UnderlyingBalances decomposes lpAmount into primary and base coin amounts.
func (m *MetaPool) UnderlyingBalances(r db.Reader, lpAmount *uint256.Int) ([]*uint256.Int, error) {
	split, err := m.Underlying(r, lpAmount)
	if err != nil {
		return nil, err
	}

	base, err := m.base.Underlying(r, split[1])
	if err != nil {
		return nil, err
	}

	return append([]*uint256.Int{split[0]}, base...), nil
}

func anyNonZero(amounts []*uint256.Int) bool {
	for _, a := range amounts {
		if a != nil && !a.IsZero() {
			return true
		}
	}

	return false
}
