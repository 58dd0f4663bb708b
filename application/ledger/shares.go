// Package ledger keeps the mAPT share ledger and moves capital between the
// deposit pools and the LP account.
//
// Each pool holds shares proportional to the value it has handed to the LP account.
// Funding the LP account mints shares to the pool at the current TVL; pulling
// capital back burns them.
package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// DefaultScalingFactor fixes the share to value ratio of the first mint.
const DefaultScalingFactor = 1000

// PriceDecimals is the number of decimals of oracle prices and of values.
const PriceDecimals = 8

func ShareBalanceOf(r db.Reader, holder common.Address) (*uint256.Int, error) {
	return db.GetUint(r, db.ShareBalancesBucket, holder.Bytes())
}

func TotalSupply(r db.Reader) (*uint256.Int, error) {
	return db.GetUint(r, db.ShareBalancesBucket, db.SupplyKey)
}

// Mint issues amount shares to holder.
func (l *Ledger) Mint(w db.Writer, ctx access.Context, holder common.Address, amount *uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleCapitalRouter); err != nil {
		return err
	}

	return mint(w, holder, amount)
}

// Burn destroys amount of holder's shares.
func (l *Ledger) Burn(w db.Writer, ctx access.Context, holder common.Address, amount *uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleCapitalRouter); err != nil {
		return err
	}

	return burn(w, holder, amount)
}

func mint(w db.Writer, holder common.Address, amount *uint256.Int) error {
	if holder == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	if amount.IsZero() {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	balance, err := ShareBalanceOf(w, holder)
	if err != nil {
		return err
	}

	supply, err := TotalSupply(w)
	if err != nil {
		return err
	}

	if _, overflow := supply.AddOverflow(supply, amount); overflow {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonOverflow)
	}

	balance.Add(balance, amount)

	if err := db.PutUint(w, db.ShareBalancesBucket, holder.Bytes(), balance); err != nil {
		return err
	}

	return db.PutUint(w, db.ShareBalancesBucket, db.SupplyKey, supply)
}

func burn(w db.Writer, holder common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	balance, err := ShareBalanceOf(w, holder)
	if err != nil {
		return err
	}

	if balance.Lt(amount) {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInsufficientBalance,
			"burn %s shares from %s holding %s", amount, holder.Hex(), balance)
	}

	supply, err := TotalSupply(w)
	if err != nil {
		return err
	}

	balance.Sub(balance, amount)
	supply.Sub(supply, amount)

	if err := db.PutUint(w, db.ShareBalancesBucket, holder.Bytes(), balance); err != nil {
		return err
	}

	return db.PutUint(w, db.ShareBalancesBucket, db.SupplyKey, supply)
}

// ValueOf converts a token amount into value units: amount*price/10^decimals.
func ValueOf(amount, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	value, overflow := new(uint256.Int).MulDivOverflow(amount, price, pow10(decimals))
	if overflow {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonOverflow, "value of %s at %s", amount, price)
	}

	return value, nil
}

// MintAmount is the share-dilution rule. The first mint scales value by
// DefaultScalingFactor; later mints get value's share of tvl in supply terms.
func MintAmount(value, supply, tvl *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		out, overflow := new(uint256.Int).MulOverflow(value, uint256.NewInt(DefaultScalingFactor))
		if overflow {
			return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonOverflow)
		}

		return out, nil
	}

	if tvl.IsZero() {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonZeroTvl, "supply %s", supply)
	}

	out, overflow := new(uint256.Int).MulDivOverflow(value, supply, tvl)
	if overflow {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonOverflow)
	}

	return out, nil
}

// CalculateMintAmount returns the shares issued for depositing amount of a token
// priced at price with the given decimals. TVL is only read when supply is nonzero.
func (l *Ledger) CalculateMintAmount(r db.Reader, amount, price *uint256.Int, decimals uint8) (*uint256.Int, error) {
	value, err := ValueOf(amount, price, decimals)
	if err != nil {
		return nil, err
	}

	supply, err := TotalSupply(r)
	if err != nil {
		return nil, err
	}

	tvl := new(uint256.Int)

	if !supply.IsZero() {
		tvl, err = l.oracle.GetTvl(r)
		if err != nil {
			return nil, err
		}
	}

	return MintAmount(value, supply, tvl)
}

func pow10(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}
