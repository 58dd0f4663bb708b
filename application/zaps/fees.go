package zaps

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// MaxFeeBps is 100%.
const MaxFeeBps = 10_000

//nolint:gochecknoglobals // fixed keys
var (
	treasuryKey     = []byte("treasury")
	rewardTokensSet = db.NewSet(db.SetRewardTokens, common.Address{})
)

type RewardFee struct {
	Token common.Address `json:"token"`
	Bps   uint16         `json:"bps"`
}

// RegisterMultipleRewardFees sets the fee skimmed from each reward token on claim.
func (c *Catalogue) RegisterMultipleRewardFees(w db.Writer, ctx access.Context, rewardTokens []common.Address, fees []uint16) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	if len(rewardTokens) != len(fees) {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidLength, "%d tokens, %d fees", len(rewardTokens), len(fees))
	}

	for i, token := range rewardTokens {
		if token == (common.Address{}) {
			return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
		}

		if fees[i] > MaxFeeBps {
			return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidFee, "%d bps for %s", fees[i], token.Hex())
		}

		if _, err := rewardTokensSet.Add(w, token.Bytes()); err != nil {
			return err
		}

		var v [2]byte
		binary.BigEndian.PutUint16(v[:], fees[i])

		if err := w.Put(db.RewardFeesBucket, token.Bytes(), v[:]); err != nil {
			return err
		}
	}

	return nil
}

func (c *Catalogue) RemoveRewardFee(w db.Writer, ctx access.Context, token common.Address) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	removed, err := rewardTokensSet.Remove(w, token.Bytes())
	if err != nil {
		return err
	}

	if !removed {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_REWARD_FEE", "%s", token.Hex())
	}

	return w.Delete(db.RewardFeesBucket, token.Bytes())
}

// RewardFee returns the fee of token in basis points. Tokens without a fee report 0.
func (c *Catalogue) RewardFee(r db.Reader, token common.Address) (uint16, error) {
	v, err := r.GetOne(db.RewardFeesBucket, token.Bytes())
	if err != nil || len(v) != 2 {
		return 0, err
	}

	return binary.BigEndian.Uint16(v), nil
}

func (c *Catalogue) RewardFees(r db.Reader) ([]RewardFee, error) {
	members, err := rewardTokensSet.Members(r)
	if err != nil {
		return nil, err
	}

	out := make([]RewardFee, 0, len(members))

	for _, m := range members {
		token := common.BytesToAddress(m)

		bps, err := c.RewardFee(r, token)
		if err != nil {
			return nil, err
		}

		out = append(out, RewardFee{Token: token, Bps: bps})
	}

	return out, nil
}

func (c *Catalogue) SetTreasury(w db.Writer, ctx access.Context, treasury common.Address) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	if treasury == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	return w.Put(db.ProtocolBucket, treasuryKey, treasury.Bytes())
}

// Treasury returns the fee destination, or the zero address when unset.
func (c *Catalogue) Treasury(r db.Reader) (common.Address, error) {
	v, err := r.GetOne(db.ProtocolBucket, treasuryKey)
	if err != nil {
		return common.Address{}, err
	}

	return common.BytesToAddress(v), nil
}

// Skim is floor(harvested * bps / 10000). The product is taken at full width, so
// only a fee above 100% of a near-maximal harvest can overflow.
func Skim(harvested *uint256.Int, bps uint16) (*uint256.Int, error) {
	fee, overflow := new(uint256.Int).MulDivOverflow(harvested, uint256.NewInt(uint64(bps)), uint256.NewInt(MaxFeeBps))
	if overflow {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonOverflow, "fee of %d bps on %s", bps, harvested)
	}

	return fee, nil
}
