package zaps

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/allocation"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// PositionAddress is where the position provider of a zap is bound.
func PositionAddress(zapName string) common.Address {
	return contracts.SystemAddress("yieldchain.positions." + zapName)
}

// position is an allocation provider reporting an account's venue position split
// into underlyers.
type position struct {
	underlyers []common.Address
	balances   func(r db.Reader, account common.Address) ([]*uint256.Int, error)
}

var _ allocation.Provider = (*position)(nil)

func bindPosition(calls *contracts.Dispatcher, zapName string, p *position) common.Address {
	addr := PositionAddress(zapName)
	calls.Bind(addr, p)

	return addr
}

func (p *position) Call(r db.Reader, input []byte) ([]byte, error) {
	return allocation.ServeProvider(r, input, p)
}

func (p *position) NumberOfTokens(db.Reader) (int, error) {
	return len(p.underlyers), nil
}

func (p *position) meta(r db.Reader, index uint8) (tokens.Meta, error) {
	if err := allocation.CheckIndex(index, len(p.underlyers)); err != nil {
		return tokens.Meta{}, err
	}

	meta, ok, err := tokens.MetaOf(r, p.underlyers[index])
	if err != nil {
		return tokens.Meta{}, err
	}

	if !ok {
		return tokens.Meta{}, apperr.Newf(apperr.ErrExternalCall, apperr.ReasonNoCode, "%s", p.underlyers[index].Hex())
	}

	return meta, nil
}

func (p *position) SymbolOf(r db.Reader, index uint8) (string, error) {
	meta, err := p.meta(r, index)

	return meta.Symbol, err
}

func (p *position) DecimalsOf(r db.Reader, index uint8) (uint8, error) {
	meta, err := p.meta(r, index)

	return meta.Decimals, err
}

func (p *position) BalanceOf(r db.Reader, account common.Address, index uint8) (*uint256.Int, error) {
	if err := allocation.CheckIndex(index, len(p.underlyers)); err != nil {
		return nil, err
	}

	balances, err := p.balances(r, account)
	if err != nil {
		return nil, err
	}

	return balances[index], nil
}

// lpHeld is the LP an account holds directly plus what it has staked.
func lpHeld(r db.Reader, pool LiquidityPool, gauge Staking, account common.Address) (*uint256.Int, error) {
	held, err := tokens.BalanceOf(r, account, pool.LpToken())
	if err != nil {
		return nil, err
	}

	staked, err := gauge.BalanceOf(r, account)
	if err != nil {
		return nil, err
	}

	return held.Add(held, staked), nil
}

func poolPosition(pool LiquidityPool, gauge Staking) *position {
	return &position{
		underlyers: pool.Coins(),
		balances: func(r db.Reader, account common.Address) ([]*uint256.Int, error) {
			lp, err := lpHeld(r, pool, gauge, account)
			if err != nil {
				return nil, err
			}

			return pool.Underlying(r, lp)
		},
	}
}

func metaPoolPosition(pool UnderlyingPool, gauge Staking) *position {
	return &position{
		underlyers: pool.Underlyers(),
		balances: func(r db.Reader, account common.Address) ([]*uint256.Int, error) {
			lp, err := lpHeld(r, pool, gauge, account)
			if err != nil {
				return nil, err
			}

			return pool.UnderlyingBalances(r, lp)
		},
	}
}

func lendingPosition(pool Lending, assets []common.Address) *position {
	return &position{
		underlyers: assets,
		balances: func(r db.Reader, account common.Address) ([]*uint256.Int, error) {
			out := make([]*uint256.Int, len(assets))

			for i, asset := range assets {
				balance, err := pool.BalanceOf(r, account, asset)
				if err != nil {
					return nil, err
				}

				out[i] = balance
			}

			return out, nil
		},
	}
}
