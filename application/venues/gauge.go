package venues

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// Gauge stakes an LP token 1:1 for a receipt token and accrues rewards to stakers.
type Gauge struct {
	rewards

	stakingToken common.Address
	receipt      common.Address
}

func NewGauge(address, stakingToken, receipt common.Address, rewardTokens []common.Address) (*Gauge, error) {
	if address == (common.Address{}) || stakingToken == (common.Address{}) || receipt == (common.Address{}) {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	return &Gauge{
		rewards:      rewards{venue: address, tokens: append([]common.Address(nil), rewardTokens...)},
		stakingToken: stakingToken,
		receipt:      receipt,
	}, nil
}

func (g *Gauge) Address() common.Address {
	return g.venue
}

func (g *Gauge) StakingToken() common.Address {
	return g.stakingToken
}

func (g *Gauge) ReceiptToken() common.Address {
	return g.receipt
}

func (g *Gauge) Deposit(w db.Writer, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	if err := tokens.Transfer(w, g.stakingToken, from, g.venue, amount); err != nil {
		return err
	}

	return tokens.Mint(w, g.receipt, from, amount)
}

func (g *Gauge) Withdraw(w db.Writer, from common.Address, amount *uint256.Int) error {
	if err := tokens.Burn(w, g.receipt, from, amount); err != nil {
		return err
	}

	return tokens.Transfer(w, g.stakingToken, g.venue, from, amount)
}

// BalanceOf is the amount account has staked.
func (g *Gauge) BalanceOf(r db.Reader, account common.Address) (*uint256.Int, error) {
	return tokens.BalanceOf(r, account, g.receipt)
}
