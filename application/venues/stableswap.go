// Package venues hosts simulated external liquidity venues: a stable-swap pool,
// its metapool variant, a reward gauge and a lending pool. Their holdings are
// plain balances in the hosted token ledger, so capital moves into and out of them
// inside the same atomic transaction as the accounting that tracks it.
package venues

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

const (
	normalizedDecimals = 18
	maxFeeBps          = 10_000
)

// StableSwap is a constant-sum pool of like-valued coins. Deposits mint LP tokens
// in proportion to the normalized value added; single-coin withdrawals pay a fee.
type StableSwap struct {
	address common.Address
	coins   []common.Address
	lpToken common.Address
	feeBps  uint64
}

func NewStableSwap(address common.Address, coins []common.Address, lpToken common.Address, feeBps uint16) (*StableSwap, error) {
	if address == (common.Address{}) || lpToken == (common.Address{}) || len(coins) == 0 {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	if feeBps > maxFeeBps {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidFee, "%d bps", feeBps)
	}

	return &StableSwap{
		address: address,
		coins:   append([]common.Address(nil), coins...),
		lpToken: lpToken,
		feeBps:  uint64(feeBps),
	}, nil
}

func (p *StableSwap) Address() common.Address {
	return p.address
}

func (p *StableSwap) Coins() []common.Address {
	return append([]common.Address(nil), p.coins...)
}

func (p *StableSwap) LpToken() common.Address {
	return p.lpToken
}

// scale is the factor that brings coin i to 18 decimals.
func (p *StableSwap) scale(r db.Reader, i int) (*uint256.Int, error) {
	meta, ok, err := tokens.MetaOf(r, p.coins[i])
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_TOKEN", "%s", p.coins[i].Hex())
	}

	if meta.Decimals > normalizedDecimals {
		return nil, apperr.Newf(apperr.ErrInvalidState, "UNSUPPORTED_DECIMALS", "%s has %d", meta.Symbol, meta.Decimals)
	}

	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(normalizedDecimals-meta.Decimals))), nil
}

// value is the normalized sum of the pool's coin balances.
func (p *StableSwap) value(r db.Reader) (*uint256.Int, error) {
	total := new(uint256.Int)

	for i, coin := range p.coins {
		balance, err := tokens.BalanceOf(r, p.address, coin)
		if err != nil {
			return nil, err
		}

		scale, err := p.scale(r, i)
		if err != nil {
			return nil, err
		}

		total.Add(total, balance.Mul(balance, scale))
	}

	return total, nil
}

// AddLiquidity deposits amounts (one per coin, zeros allowed) from from and mints LP tokens to it.
func (p *StableSwap) AddLiquidity(w db.Writer, from common.Address, amounts []*uint256.Int) (*uint256.Int, error) {
	if len(amounts) != len(p.coins) {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidLength, "%d amounts for %d coins", len(amounts), len(p.coins))
	}

	value, err := p.value(w)
	if err != nil {
		return nil, err
	}

	supply, err := tokens.TotalSupply(w, p.lpToken)
	if err != nil {
		return nil, err
	}

	deposit := new(uint256.Int)

	for i, amount := range amounts {
		if amount == nil || amount.IsZero() {
			continue
		}

		scale, err := p.scale(w, i)
		if err != nil {
			return nil, err
		}

		deposit.Add(deposit, new(uint256.Int).Mul(amount, scale))

		if err := tokens.Transfer(w, p.coins[i], from, p.address, amount); err != nil {
			return nil, err
		}
	}

	if deposit.IsZero() {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	minted := deposit
	if !supply.IsZero() && !value.IsZero() {
		minted = new(uint256.Int).Div(new(uint256.Int).Mul(deposit, supply), value)
	}

	if err := tokens.Mint(w, p.lpToken, from, minted); err != nil {
		return nil, err
	}

	return minted, nil
}

// CalcWithdrawOneCoin returns how much of coin i burning lpAmount yields, after the fee.
func (p *StableSwap) CalcWithdrawOneCoin(r db.Reader, lpAmount *uint256.Int, i int) (*uint256.Int, error) {
	if i < 0 || i >= len(p.coins) {
		return nil, apperr.Newf(apperr.ErrInvalidState, "INVALID_INDEX", "coin %d of %d", i, len(p.coins))
	}

	supply, err := tokens.TotalSupply(r, p.lpToken)
	if err != nil {
		return nil, err
	}

	if supply.IsZero() || lpAmount.Gt(supply) {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInsufficientBalance, "burn %s of %s lp", lpAmount, supply)
	}

	value, err := p.value(r)
	if err != nil {
		return nil, err
	}

	share := new(uint256.Int).Div(new(uint256.Int).Mul(lpAmount, value), supply)
	fee := new(uint256.Int).Div(new(uint256.Int).Mul(share, uint256.NewInt(p.feeBps)), uint256.NewInt(maxFeeBps))
	share.Sub(share, fee)

	scale, err := p.scale(r, i)
	if err != nil {
		return nil, err
	}

	out := share.Div(share, scale)

	balance, err := tokens.BalanceOf(r, p.address, p.coins[i])
	if err != nil {
		return nil, err
	}

	if balance.Lt(out) {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInsufficientBalance, "pool holds %s, owes %s", balance, out)
	}

	return out, nil
}

// RemoveLiquidityOneCoin burns lpAmount of from's LP tokens and pays out coin i.
func (p *StableSwap) RemoveLiquidityOneCoin(w db.Writer, from common.Address, lpAmount *uint256.Int, i int) (*uint256.Int, error) {
	out, err := p.CalcWithdrawOneCoin(w, lpAmount, i)
	if err != nil {
		return nil, err
	}

	if err := tokens.Burn(w, p.lpToken, from, lpAmount); err != nil {
		return nil, err
	}

	if err := tokens.Transfer(w, p.coins[i], p.address, from, out); err != nil {
		return nil, err
	}

	return out, nil
}

// Underlying splits lpAmount into its pro-rata claim on each coin, before fees.
func (p *StableSwap) Underlying(r db.Reader, lpAmount *uint256.Int) ([]*uint256.Int, error) {
	supply, err := tokens.TotalSupply(r, p.lpToken)
	if err != nil {
		return nil, err
	}

	out := make([]*uint256.Int, len(p.coins))

	for i, coin := range p.coins {
		out[i] = new(uint256.Int)

		if supply.IsZero() || lpAmount.IsZero() {
			continue
		}

		balance, err := tokens.BalanceOf(r, p.address, coin)
		if err != nil {
			return nil, err
		}

		out[i].Div(balance.Mul(balance, lpAmount), supply)
	}

	return out, nil
}
