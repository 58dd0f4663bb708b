package venues

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// rewards tracks claimable reward tokens per account. Admins notify rewards;
// claiming mints them to the account.
type rewards struct {
	venue  common.Address
	tokens []common.Address
}

func (rw rewards) RewardTokens() []common.Address {
	return append([]common.Address(nil), rw.tokens...)
}

func (rw rewards) key(token, account common.Address) []byte {
	return db.VenueKey(rw.venue, "reward"+string(token.Bytes()), account)
}

// NotifyReward credits account with amount of a reward token.
func (rw rewards) NotifyReward(w db.Writer, ctx access.Context, account, token common.Address, amount *uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	if !slices.Contains(rw.tokens, token) {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_REWARD", "%s", token.Hex())
	}

	claimable, err := rw.Claimable(w, account, token)
	if err != nil {
		return err
	}

	return db.PutUint(w, db.VenuesBucket, rw.key(token, account), claimable.Add(claimable, amount))
}

func (rw rewards) Claimable(r db.Reader, account, token common.Address) (*uint256.Int, error) {
	return db.GetUint(r, db.VenuesBucket, rw.key(token, account))
}

// Claim pays out everything account has accrued.
func (rw rewards) Claim(w db.Writer, account common.Address) error {
	for _, token := range rw.tokens {
		claimable, err := rw.Claimable(w, account, token)
		if err != nil {
			return err
		}

		if claimable.IsZero() {
			continue
		}

		if err := tokens.Mint(w, token, account, claimable); err != nil {
			return err
		}

		if err := w.Delete(db.VenuesBucket, rw.key(token, account)); err != nil {
			return err
		}
	}

	return nil
}
