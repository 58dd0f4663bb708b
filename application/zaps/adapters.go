package zaps

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// StableSwapZap deposits into a stable-swap pool and stakes the LP in its gauge.
type StableSwapZap struct {
	name     string
	pool     LiquidityPool
	gauge    Staking
	position common.Address
}

func NewStableSwapZap(name string, pool LiquidityPool, gauge Staking, calls *contracts.Dispatcher) *StableSwapZap {
	return &StableSwapZap{
		name:     name,
		pool:     pool,
		gauge:    gauge,
		position: bindPosition(calls, name, poolPosition(pool, gauge)),
	}
}

func (z *StableSwapZap) Name() string {
	return z.name
}

func (z *StableSwapZap) AssetsRequired() []common.Address {
	return z.pool.Coins()
}

func (z *StableSwapZap) Erc20Allocations() []common.Address {
	return unionAddresses(z.pool.Coins(), z.gauge.RewardTokens())
}

func (z *StableSwapZap) AssetAllocations() []common.Address {
	return []common.Address{z.position}
}

func (z *StableSwapZap) RewardTokens() []common.Address {
	return z.gauge.RewardTokens()
}

func (z *StableSwapZap) Deploy(w db.Writer, account common.Address, amounts []*uint256.Int) error {
	lp, err := z.pool.AddLiquidity(w, account, amounts)
	if err != nil {
		return err
	}

	return z.gauge.Deposit(w, account, lp)
}

func (z *StableSwapZap) Unwind(w db.Writer, account common.Address, amount *uint256.Int, index uint8) error {
	if err := z.gauge.Withdraw(w, account, amount); err != nil {
		return err
	}

	_, err := z.pool.RemoveLiquidityOneCoin(w, account, amount, int(index))

	return err
}

func (z *StableSwapZap) Claim(w db.Writer, account common.Address) error {
	return z.gauge.Claim(w, account)
}

// MetaPoolZap deposits underlyers into a metapool, routing base coins through the
// base pool, and stakes the LP in the metapool gauge. Underlyer 0 is the primary coin.
type MetaPoolZap struct {
	name     string
	pool     UnderlyingPool
	gauge    Staking
	position common.Address
}

func NewMetaPoolZap(name string, pool UnderlyingPool, gauge Staking, calls *contracts.Dispatcher) *MetaPoolZap {
	return &MetaPoolZap{
		name:     name,
		pool:     pool,
		gauge:    gauge,
		position: bindPosition(calls, name, metaPoolPosition(pool, gauge)),
	}
}

func (z *MetaPoolZap) Name() string {
	return z.name
}

func (z *MetaPoolZap) AssetsRequired() []common.Address {
	return z.pool.Underlyers()
}

func (z *MetaPoolZap) Erc20Allocations() []common.Address {
	return unionAddresses(z.pool.Underlyers(), z.gauge.RewardTokens())
}

func (z *MetaPoolZap) AssetAllocations() []common.Address {
	return []common.Address{z.position}
}

func (z *MetaPoolZap) RewardTokens() []common.Address {
	return z.gauge.RewardTokens()
}

func (z *MetaPoolZap) Deploy(w db.Writer, account common.Address, amounts []*uint256.Int) error {
	lp, err := z.pool.AddLiquidityUnderlying(w, account, amounts)
	if err != nil {
		return err
	}

	return z.gauge.Deposit(w, account, lp)
}

func (z *MetaPoolZap) Unwind(w db.Writer, account common.Address, amount *uint256.Int, index uint8) error {
	if err := z.gauge.Withdraw(w, account, amount); err != nil {
		return err
	}

	_, err := z.pool.RemoveLiquidityUnderlying(w, account, amount, int(index))

	return err
}

func (z *MetaPoolZap) Claim(w db.Writer, account common.Address) error {
	return z.gauge.Claim(w, account)
}

// LendingZap supplies assets to a lending market.
type LendingZap struct {
	name     string
	pool     Lending
	assets   []common.Address
	position common.Address
}

func NewLendingZap(name string, pool Lending, assets []common.Address, calls *contracts.Dispatcher) *LendingZap {
	assets = append([]common.Address(nil), assets...)

	return &LendingZap{
		name:     name,
		pool:     pool,
		assets:   assets,
		position: bindPosition(calls, name, lendingPosition(pool, assets)),
	}
}

func (z *LendingZap) Name() string {
	return z.name
}

func (z *LendingZap) AssetsRequired() []common.Address {
	return append([]common.Address(nil), z.assets...)
}

func (z *LendingZap) Erc20Allocations() []common.Address {
	return unionAddresses(z.assets, z.pool.RewardTokens())
}

func (z *LendingZap) AssetAllocations() []common.Address {
	return []common.Address{z.position}
}

func (z *LendingZap) RewardTokens() []common.Address {
	return z.pool.RewardTokens()
}

func (z *LendingZap) Deploy(w db.Writer, account common.Address, amounts []*uint256.Int) error {
	for i, amount := range amounts {
		if amount == nil || amount.IsZero() {
			continue
		}

		if err := z.pool.Deposit(w, account, z.assets[i], amount); err != nil {
			return err
		}
	}

	return nil
}

func (z *LendingZap) Unwind(w db.Writer, account common.Address, amount *uint256.Int, index uint8) error {
	return z.pool.Withdraw(w, account, z.assets[index], amount)
}

func (z *LendingZap) Claim(w db.Writer, account common.Address) error {
	return z.pool.Claim(w, account)
}
