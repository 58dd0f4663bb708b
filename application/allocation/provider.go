package allocation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// Provider reports a list of tokens and the balance an account holds in each.
type Provider interface {
	NumberOfTokens(r db.Reader) (int, error)
	SymbolOf(r db.Reader, index uint8) (string, error)
	DecimalsOf(r db.Reader, index uint8) (uint8, error)
	BalanceOf(r db.Reader, account common.Address, index uint8) (*uint256.Int, error)
}

// ServeProvider answers the allocation provider ABI on behalf of p.
func ServeProvider(r db.Reader, input []byte, p Provider) ([]byte, error) {
	return contracts.Serve(contracts.AllocationABI, input, map[string]contracts.Handler{
		"balanceOf": func(args []any) ([]any, error) {
			account, _ := args[0].(common.Address)
			index, _ := args[1].(uint8)

			balance, err := p.BalanceOf(r, account, index)
			if err != nil {
				return nil, err
			}

			return []any{contracts.Word(balance)}, nil
		},
		"numberOfTokens": func([]any) ([]any, error) {
			n, err := p.NumberOfTokens(r)
			if err != nil {
				return nil, err
			}

			return []any{contracts.Word(uint256.NewInt(uint64(n)))}, nil
		},
		"symbolOf": func(args []any) ([]any, error) {
			index, _ := args[0].(uint8)

			symbol, err := p.SymbolOf(r, index)

			return []any{symbol}, err
		},
		"decimalsOf": func(args []any) ([]any, error) {
			index, _ := args[0].(uint8)

			decimals, err := p.DecimalsOf(r, index)

			return []any{decimals}, err
		},
	})
}

// CheckIndex fails when index is outside a list of n tokens.
func CheckIndex(index uint8, n int) error {
	if int(index) >= n {
		return apperr.Newf(apperr.ErrExternalCall, apperr.ReasonReverted, "index %d out of %d tokens", index, n)
	}

	return nil
}
