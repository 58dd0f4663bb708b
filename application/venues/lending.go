package venues

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// Reserve is one asset a LendingPool accepts and the interest token it issues for it.
type Reserve struct {
	Asset   common.Address `yaml:"asset"`
	Receipt common.Address `yaml:"receipt"`
}

// LendingPool takes deposits of its reserve assets and issues interest tokens 1:1.
type LendingPool struct {
	rewards

	reserves []Reserve
}

func NewLendingPool(address common.Address, reserves []Reserve, rewardTokens []common.Address) (*LendingPool, error) {
	if address == (common.Address{}) || len(reserves) == 0 {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	return &LendingPool{
		rewards:  rewards{venue: address, tokens: append([]common.Address(nil), rewardTokens...)},
		reserves: append([]Reserve(nil), reserves...),
	}, nil
}

func (p *LendingPool) Address() common.Address {
	return p.venue
}

func (p *LendingPool) Reserves() []Reserve {
	return append([]Reserve(nil), p.reserves...)
}

func (p *LendingPool) reserve(asset common.Address) (Reserve, error) {
	for _, res := range p.reserves {
		if res.Asset == asset {
			return res, nil
		}
	}

	return Reserve{}, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_RESERVE", "%s", asset.Hex())
}

func (p *LendingPool) Deposit(w db.Writer, from, asset common.Address, amount *uint256.Int) error {
	res, err := p.reserve(asset)
	if err != nil {
		return err
	}

	if amount.IsZero() {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	if err := tokens.Transfer(w, asset, from, p.venue, amount); err != nil {
		return err
	}

	return tokens.Mint(w, res.Receipt, from, amount)
}

func (p *LendingPool) Withdraw(w db.Writer, from, asset common.Address, amount *uint256.Int) error {
	res, err := p.reserve(asset)
	if err != nil {
		return err
	}

	if err := tokens.Burn(w, res.Receipt, from, amount); err != nil {
		return err
	}

	return tokens.Transfer(w, asset, p.venue, from, amount)
}

// BalanceOf is account's interest token balance for asset.
func (p *LendingPool) BalanceOf(r db.Reader, account, asset common.Address) (*uint256.Int, error) {
	res, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}

	return tokens.BalanceOf(r, account, res.Receipt)
}
