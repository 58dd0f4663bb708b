// Package tokens is the hosted token ledger: balances keyed by token and account,
// total supplies and token metadata. Stablecoins, LP tokens, receipt tokens and
// reward tokens all live here.
package tokens

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
)

type Meta struct {
	Symbol   string `cbor:"1,keyasint" json:"symbol"   yaml:"symbol"`
	Decimals uint8  `cbor:"2,keyasint" json:"decimals" yaml:"decimals"`
}

// Deploy creates a token with the given metadata.
func Deploy(w db.Writer, token common.Address, meta Meta) error {
	if token == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	_, exists, err := MetaOf(w, token)
	if err != nil {
		return err
	}

	if exists {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonDuplicate, "token %s", token.Hex())
	}

	return db.PutRecord(w, db.TokenMetaBucket, token.Bytes(), meta)
}

func MetaOf(r db.Reader, token common.Address) (Meta, bool, error) {
	var meta Meta

	ok, err := db.GetRecord(r, db.TokenMetaBucket, token.Bytes(), &meta)

	return meta, ok, err
}

func BalanceOf(r db.Reader, account common.Address, token common.Address) (*uint256.Int, error) {
	return db.GetUint(r, db.AccountsBucket, db.AccountKey(account, token))
}

func TotalSupply(r db.Reader, token common.Address) (*uint256.Int, error) {
	return db.GetUint(r, db.SupplyBucket, token.Bytes())
}

// Transfer moves amount of token from one account to another.
func Transfer(w db.Writer, token, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	senderKey := db.AccountKey(from, token)

	senderBalance, err := db.GetUint(w, db.AccountsBucket, senderKey)
	if err != nil {
		return err
	}

	if senderBalance.Lt(amount) {
		return apperr.Newf(
			apperr.ErrInvalidState,
			apperr.ReasonInsufficientBalance,
			"sender %s, token %s, actual balance %s, value %s",
			from.Hex(),
			token.Hex(),
			senderBalance,
			amount,
		)
	}

	if from == to || amount.IsZero() {
		return nil
	}

	receiverKey := db.AccountKey(to, token)

	receiverBalance, err := db.GetUint(w, db.AccountsBucket, receiverKey)
	if err != nil {
		return err
	}

	// add receiver's balance
	// reduce sender's balance
	receiverBalance.Add(receiverBalance, amount)
	senderBalance.Sub(senderBalance, amount)

	if err := db.PutUint(w, db.AccountsBucket, senderKey, senderBalance); err != nil {
		return err
	}

	return db.PutUint(w, db.AccountsBucket, receiverKey, receiverBalance)
}

// Mint credits amount of a deployed token to an account.
func Mint(w db.Writer, token, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	if _, ok, err := MetaOf(w, token); err != nil {
		return err
	} else if !ok {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_TOKEN", "%s", token.Hex())
	}

	balance, err := BalanceOf(w, to, token)
	if err != nil {
		return err
	}

	supply, err := TotalSupply(w, token)
	if err != nil {
		return err
	}

	if err := db.PutUint(w, db.AccountsBucket, db.AccountKey(to, token), balance.Add(balance, amount)); err != nil {
		return err
	}

	return db.PutUint(w, db.SupplyBucket, token.Bytes(), supply.Add(supply, amount))
}

// Burn destroys amount of token held by an account.
func Burn(w db.Writer, token, from common.Address, amount *uint256.Int) error {
	balance, err := BalanceOf(w, from, token)
	if err != nil {
		return err
	}

	if balance.Lt(amount) {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInsufficientBalance,
			"burn %s of %s from %s holding %s", amount, token.Hex(), from.Hex(), balance)
	}

	supply, err := TotalSupply(w, token)
	if err != nil {
		return err
	}

	if err := db.PutUint(w, db.AccountsBucket, db.AccountKey(from, token), balance.Sub(balance, amount)); err != nil {
		return err
	}

	return db.PutUint(w, db.SupplyBucket, token.Bytes(), supply.Sub(supply, amount))
}

// Contract is the ERC20 read view of a hosted token.
type Contract struct {
	token common.Address
}

func NewContract(token common.Address) *Contract {
	return &Contract{token: token}
}

func (c *Contract) Call(r db.Reader, input []byte) ([]byte, error) {
	return contracts.Serve(contracts.ERC20ABI, input, map[string]contracts.Handler{
		"balanceOf": func(args []any) ([]any, error) {
			account, _ := args[0].(common.Address)

			balance, err := BalanceOf(r, account, c.token)
			if err != nil {
				return nil, err
			}

			return []any{contracts.Word(balance)}, nil
		},
		"totalSupply": func([]any) ([]any, error) {
			supply, err := TotalSupply(r, c.token)
			if err != nil {
				return nil, err
			}

			return []any{contracts.Word(supply)}, nil
		},
		"symbol": func([]any) ([]any, error) {
			meta, _, err := MetaOf(r, c.token)

			return []any{meta.Symbol}, err
		},
		"decimals": func([]any) ([]any, error) {
			meta, _, err := MetaOf(r, c.token)

			return []any{meta.Decimals}, err
		},
	})
}

// Resolver exposes every deployed token through a contracts.Dispatcher.
func Resolver(r db.Reader, addr common.Address) (contracts.Contract, bool, error) {
	_, ok, err := MetaOf(r, addr)
	if err != nil || !ok {
		return nil, false, err
	}

	return NewContract(addr), true, nil
}
