// Package zaps is the strategy catalogue of the LP account.
//
// A zap adapts one external venue: it deploys capital from the LP account into the
// venue, unwinds a position back into one underlyer and harvests the venue's
// rewards. Zaps keep no state of their own. The positions they open are visible to
// TVL through the allocations they declare, which the catalogue registers when the
// zap is activated.
package zaps

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/db"
)

// Zap adapts one venue. account is always the LP account.
type Zap interface {
	Name() string
	// AssetsRequired lists the underlyers Deploy takes amounts for, in order.
	AssetsRequired() []common.Address
	// Erc20Allocations lists tokens the LP account may hold because of this zap.
	Erc20Allocations() []common.Address
	// AssetAllocations lists allocation providers that value the zap's positions.
	AssetAllocations() []common.Address
	RewardTokens() []common.Address

	Deploy(w db.Writer, account common.Address, amounts []*uint256.Int) error
	Unwind(w db.Writer, account common.Address, amount *uint256.Int, index uint8) error
	Claim(w db.Writer, account common.Address) error
}

// LiquidityPool is a pool that mints an LP token against a basket of coins.
type LiquidityPool interface {
	Address() common.Address
	Coins() []common.Address
	LpToken() common.Address
	AddLiquidity(w db.Writer, from common.Address, amounts []*uint256.Int) (*uint256.Int, error)
	RemoveLiquidityOneCoin(w db.Writer, from common.Address, lpAmount *uint256.Int, i int) (*uint256.Int, error)
	Underlying(r db.Reader, lpAmount *uint256.Int) ([]*uint256.Int, error)
}

// UnderlyingPool is a pool whose coins include the LP token of another pool and
// which deposits and withdraws in terms of the flattened underlyers.
type UnderlyingPool interface {
	LiquidityPool
	Underlyers() []common.Address
	AddLiquidityUnderlying(w db.Writer, from common.Address, amounts []*uint256.Int) (*uint256.Int, error)
	RemoveLiquidityUnderlying(w db.Writer, from common.Address, lpAmount *uint256.Int, index int) (*uint256.Int, error)
	UnderlyingBalances(r db.Reader, lpAmount *uint256.Int) ([]*uint256.Int, error)
}

// Staking is a reward gauge for an LP token.
type Staking interface {
	Address() common.Address
	Deposit(w db.Writer, from common.Address, amount *uint256.Int) error
	Withdraw(w db.Writer, from common.Address, amount *uint256.Int) error
	BalanceOf(r db.Reader, account common.Address) (*uint256.Int, error)
	RewardTokens() []common.Address
	Claim(w db.Writer, account common.Address) error
}

// Lending is a lending market issuing interest tokens.
type Lending interface {
	Address() common.Address
	Deposit(w db.Writer, from, asset common.Address, amount *uint256.Int) error
	Withdraw(w db.Writer, from, asset common.Address, amount *uint256.Int) error
	BalanceOf(r db.Reader, account, asset common.Address) (*uint256.Int, error)
	RewardTokens() []common.Address
	Claim(w db.Writer, account common.Address) error
}

// Policy is per-zap configuration kept outside the adapter.
type Policy struct {
	// PrimaryWithdrawBlocked forbids unwinding into underlyer 0.
	PrimaryWithdrawBlocked bool `cbor:"1,keyasint" json:"primary_withdraw_blocked" yaml:"primary_withdraw_blocked"`
}

func unionAddresses(lists ...[]common.Address) []common.Address {
	seen := make(map[common.Address]struct{})

	var out []common.Address

	for _, list := range lists {
		for _, a := range list {
			if _, ok := seen[a]; ok {
				continue
			}

			seen[a] = struct{}{}
			out = append(out, a)
		}
	}

	return out
}
