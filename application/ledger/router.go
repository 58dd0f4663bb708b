package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/oracle"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// TokenRegistrar makes the LP account's holdings of a token visible to TVL.
type TokenRegistrar interface {
	RegisterTokenByAddress(w db.Writer, ctx access.Context, token common.Address) error
}

type Ledger struct {
	self      common.Address
	lpAccount common.Address
	oracle    oracle.Gate
	registrar TokenRegistrar
	log       zerolog.Logger
}

// New creates the ledger. self is the address the ledger acts as when it
// registers underlyers; it must hold the contract role.
func New(self, lpAccount common.Address, gate oracle.Gate, registrar TokenRegistrar, log zerolog.Logger) *Ledger {
	return &Ledger{
		self:      self,
		lpAccount: lpAccount,
		oracle:    gate,
		registrar: registrar,
		log:       log.With().Str("component", "ledger").Logger(),
	}
}

func (l *Ledger) Address() common.Address {
	return l.self
}

func (l *Ledger) LpAccount() common.Address {
	return l.lpAccount
}

// Rebalance is the signed capital need of a pool. Positive values mean the pool
// needs capital pulled back from the LP account, negative values mean it holds
// excess that can be pushed to the LP account.
type Rebalance struct {
	PoolID string   `json:"pool_id"`
	Value  *big.Int `json:"value"`
	Amount *big.Int `json:"amount"`
}

// Movement is a transfer between a pool and the LP account and the shares it minted or burned.
type Movement struct {
	PoolID string       `json:"pool_id"`
	Amount *uint256.Int `json:"amount"`
	Shares *uint256.Int `json:"shares"`
}

type snapshot struct {
	supply *uint256.Int
	tvl    *uint256.Int
}

type quote struct {
	pool     Pool
	price    *uint256.Int
	decimals uint8
	reserve  *uint256.Int
	shares   *uint256.Int
}

// snapshot takes the single TVL reading a batch works from. It fails while the
// oracle is locked.
func (l *Ledger) snapshot(r db.Reader) (snapshot, error) {
	supply, err := TotalSupply(r)
	if err != nil {
		return snapshot{}, err
	}

	tvl, err := l.oracle.GetTvl(r)
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{supply: supply, tvl: tvl}, nil
}

func (l *Ledger) quote(r db.Reader, p Pool) (quote, error) {
	price, err := l.oracle.GetPrice(r, p.Token)
	if err != nil {
		return quote{}, err
	}

	meta, ok, err := tokens.MetaOf(r, p.Token)
	if err != nil {
		return quote{}, err
	}

	if !ok {
		return quote{}, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_TOKEN", "%s", p.Token.Hex())
	}

	reserve, err := tokens.BalanceOf(r, p.Address, p.Token)
	if err != nil {
		return quote{}, err
	}

	shares, err := ShareBalanceOf(r, p.Address)
	if err != nil {
		return quote{}, err
	}

	return quote{pool: p, price: price, decimals: meta.Decimals, reserve: reserve, shares: shares}, nil
}

// rebalance computes topUp = (D*rp - R*100) / (100 + rp), where R is the value
// idle in the pool and D the pool's share of TVL.
func rebalance(q quote, snap snapshot) (Rebalance, error) {
	reserveValue, err := ValueOf(q.reserve, q.price, q.decimals)
	if err != nil {
		return Rebalance{}, err
	}

	deployed := new(big.Int)
	if !snap.supply.IsZero() {
		deployed.Mul(snap.tvl.ToBig(), q.shares.ToBig())
		deployed.Quo(deployed, snap.supply.ToBig())
	}

	rp := big.NewInt(int64(q.pool.ReservePercentage))

	top := new(big.Int).Mul(deployed, rp)
	top.Sub(top, new(big.Int).Mul(reserveValue.ToBig(), big.NewInt(100)))
	top.Quo(top, new(big.Int).Add(rp, big.NewInt(100)))

	amount := new(big.Int).Abs(top)
	amount.Mul(amount, pow10(q.decimals).ToBig())
	amount.Quo(amount, q.price.ToBig())

	if top.Sign() < 0 {
		amount.Neg(amount)
	}

	return Rebalance{PoolID: q.pool.ID, Value: top, Amount: amount}, nil
}

// RebalanceAmounts reports each pool's capital need against one TVL reading.
func (l *Ledger) RebalanceAmounts(r db.Reader, poolIDs []string) ([]Rebalance, error) {
	snap, err := l.snapshot(r)
	if err != nil {
		return nil, err
	}

	pools, err := l.pools(r, poolIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Rebalance, 0, len(pools))

	for _, p := range pools {
		q, err := l.quote(r, p)
		if err != nil {
			return nil, err
		}

		rb, err := rebalance(q, snap)
		if err != nil {
			return nil, err
		}

		out = append(out, rb)
	}

	return out, nil
}

// FundLpAccount moves every listed pool's excess to the LP account and mints the
// pool the matching shares.
func (l *Ledger) FundLpAccount(w db.Writer, ctx access.Context, poolIDs []string) ([]Movement, error) {
	if err := access.Require(w, ctx, access.RoleCapitalRouter); err != nil {
		return nil, err
	}

	return l.move(w, poolIDs, nil, true)
}

// WithdrawFromLpAccount tops up every listed pool from the LP account and burns
// the matching shares.
func (l *Ledger) WithdrawFromLpAccount(w db.Writer, ctx access.Context, poolIDs []string) ([]Movement, error) {
	if err := access.Require(w, ctx, access.RoleCapitalRouter); err != nil {
		return nil, err
	}

	return l.move(w, poolIDs, nil, false)
}

// EmergencyFundLpAccount is FundLpAccount with explicit token amounts.
func (l *Ledger) EmergencyFundLpAccount(
	w db.Writer,
	ctx access.Context,
	poolIDs []string,
	amounts []*uint256.Int,
) ([]Movement, error) {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return nil, err
	}

	if len(poolIDs) != len(amounts) {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonInvalidLength)
	}

	return l.move(w, poolIDs, amounts, true)
}

// EmergencyWithdrawFromLpAccount is WithdrawFromLpAccount with explicit token amounts.
func (l *Ledger) EmergencyWithdrawFromLpAccount(
	w db.Writer,
	ctx access.Context,
	poolIDs []string,
	amounts []*uint256.Int,
) ([]Movement, error) {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return nil, err
	}

	if len(poolIDs) != len(amounts) {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonInvalidLength)
	}

	return l.move(w, poolIDs, amounts, false)
}

// move plans every transfer and share amount from one snapshot, then applies the
// plan. Nothing is written unless the whole batch succeeds.
func (l *Ledger) move(w db.Writer, poolIDs []string, explicit []*uint256.Int, fund bool) ([]Movement, error) {
	var out []Movement

	err := db.Atomic(w, func(w db.Writer) error {
		snap, err := l.snapshot(w)
		if err != nil {
			return err
		}

		pools, err := l.pools(w, poolIDs)
		if err != nil {
			return err
		}

		plan := make([]Movement, 0, len(pools))
		quotes := make([]quote, 0, len(pools))

		for i, p := range pools {
			q, err := l.quote(w, p)
			if err != nil {
				return err
			}

			amount, err := l.amountFor(q, snap, explicit, i, fund)
			if err != nil {
				return err
			}

			if amount.IsZero() {
				continue
			}

			value, err := ValueOf(amount, q.price, q.decimals)
			if err != nil {
				return err
			}

			shares, err := MintAmount(value, snap.supply, snap.tvl)
			if err != nil {
				return err
			}

			if !fund && shares.Gt(q.shares) {
				shares = new(uint256.Int).Set(q.shares)
			}

			plan = append(plan, Movement{PoolID: p.ID, Amount: amount, Shares: shares})
			quotes = append(quotes, q)
		}

		for i, m := range plan {
			if err := l.apply(w, quotes[i].pool, m, fund); err != nil {
				return err
			}
		}

		out = plan

		return l.oracle.Lock(w)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func (l *Ledger) amountFor(q quote, snap snapshot, explicit []*uint256.Int, i int, fund bool) (*uint256.Int, error) {
	if explicit != nil {
		if explicit[i] == nil {
			return new(uint256.Int), nil
		}

		return new(uint256.Int).Set(explicit[i]), nil
	}

	rb, err := rebalance(q, snap)
	if err != nil {
		return nil, err
	}

	// funding takes the excess, withdrawing serves the need
	if fund != (rb.Amount.Sign() < 0) {
		return new(uint256.Int), nil
	}

	amount, overflow := uint256.FromBig(new(big.Int).Abs(rb.Amount))
	if overflow {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonOverflow)
	}

	return amount, nil
}

func (l *Ledger) apply(w db.Writer, p Pool, m Movement, fund bool) error {
	if fund {
		if err := l.registrar.RegisterTokenByAddress(w, access.As(l.self), p.Token); err != nil {
			return err
		}

		if err := tokens.Transfer(w, p.Token, p.Address, l.lpAccount, m.Amount); err != nil {
			return err
		}

		if !m.Shares.IsZero() {
			if err := mint(w, p.Address, m.Shares); err != nil {
				return err
			}
		}
	} else {
		if err := tokens.Transfer(w, p.Token, l.lpAccount, p.Address, m.Amount); err != nil {
			return err
		}

		if !m.Shares.IsZero() {
			if err := burn(w, p.Address, m.Shares); err != nil {
				return err
			}
		}
	}

	l.log.Info().
		Str("pool", p.ID).
		Bool("fund", fund).
		Stringer("amount", m.Amount).
		Stringer("shares", m.Shares).
		Msg("capital moved")

	return nil
}
