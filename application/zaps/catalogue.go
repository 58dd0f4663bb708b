package zaps

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

// Locker is the part of the oracle the catalogue drives.
type Locker interface {
	Lock(w db.Writer) error
}

// TokenRegistrar tracks LP account balances of a token.
type TokenRegistrar interface {
	RegisterTokenByAddress(w db.Writer, ctx access.Context, token common.Address) error
}

// ProviderRegistry registers allocation providers.
type ProviderRegistry interface {
	Register(w db.Writer, ctx access.Context, provider common.Address) error
}

// Record is an active zap.
type Record struct {
	Name         string           `cbor:"1,keyasint" json:"name"`
	Assets       []common.Address `cbor:"2,keyasint" json:"assets"`
	RewardTokens []common.Address `cbor:"3,keyasint" json:"reward_tokens"`
	Policy       Policy           `cbor:"4,keyasint" json:"policy"`
}

// Harvest is what one claim of one reward token yielded.
type Harvest struct {
	Zap       string         `json:"zap"`
	Token     common.Address `json:"token"`
	Harvested *uint256.Int   `json:"harvested"`
	Fee       *uint256.Int   `json:"fee"`
}

type Catalogue struct {
	account  common.Address
	self     common.Address
	adapters map[string]Zap

	registrar TokenRegistrar
	registry  ProviderRegistry
	oracle    Locker
	log       zerolog.Logger

	zaps db.Set
}

// NewCatalogue creates the catalogue for account. self is the address the catalogue
// acts as when it registers tokens; it must hold the contract role.
func NewCatalogue(
	account, self common.Address,
	registrar TokenRegistrar,
	registry ProviderRegistry,
	oracle Locker,
	log zerolog.Logger,
) *Catalogue {
	return &Catalogue{
		account:   account,
		self:      self,
		adapters:  make(map[string]Zap),
		registrar: registrar,
		registry:  registry,
		oracle:    oracle,
		log:       log.With().Str("component", "zaps").Logger(),
		zaps:      db.NewSet(db.SetZaps, common.Address{}),
	}
}

func (c *Catalogue) Address() common.Address {
	return c.self
}

// Bind makes an adapter available for registration. Adapters are compiled in and
// bound at startup; registration is what activates them.
func (c *Catalogue) Bind(z Zap) {
	c.adapters[z.Name()] = z
}

// Adapters returns the names of all bound adapters.
func (c *Catalogue) Adapters() []string {
	names := make([]string, 0, len(c.adapters))
	for name := range c.adapters {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// RegisterZap activates a bound adapter with policy and registers the allocations
// its positions need. Registering an active zap updates its policy.
func (c *Catalogue) RegisterZap(w db.Writer, ctx access.Context, name string, policy Policy) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	z, ok := c.adapters[name]
	if !ok {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_ZAP", "no adapter named %q", name)
	}

	return db.Atomic(w, func(w db.Writer) error {
		if _, err := c.zaps.Add(w, []byte(name)); err != nil {
			return err
		}

		rec := Record{
			Name:         name,
			Assets:       z.AssetsRequired(),
			RewardTokens: z.RewardTokens(),
			Policy:       policy,
		}

		if err := db.PutRecord(w, db.ZapsBucket, []byte(name), rec); err != nil {
			return err
		}

		for _, token := range z.Erc20Allocations() {
			if err := c.registrar.RegisterTokenByAddress(w, access.As(c.self), token); err != nil {
				return err
			}
		}

		for _, provider := range z.AssetAllocations() {
			if err := c.registry.Register(w, ctx, provider); err != nil {
				return err
			}
		}

		c.log.Info().Str("zap", name).Bool("primary_withdraw_blocked", policy.PrimaryWithdrawBlocked).Msg("zap registered")

		return c.oracle.Lock(w)
	})
}

// RemoveZap deactivates a zap. Allocations it registered stay, since positions may
// still hold capital.
func (c *Catalogue) RemoveZap(w db.Writer, ctx access.Context, name string) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	removed, err := c.zaps.Remove(w, []byte(name))
	if err != nil {
		return err
	}

	if !removed {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_ZAP", "%q", name)
	}

	return w.Delete(db.ZapsBucket, []byte(name))
}

func (c *Catalogue) Zap(r db.Reader, name string) (Record, error) {
	var rec Record

	ok, err := db.GetRecord(r, db.ZapsBucket, []byte(name), &rec)
	if err != nil {
		return Record{}, err
	}

	if !ok {
		return Record{}, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_ZAP", "%q", name)
	}

	return rec, nil
}

// Zaps returns active zaps in registration order.
func (c *Catalogue) Zaps(r db.Reader) ([]Record, error) {
	names, err := c.zaps.Members(r)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(names))

	for _, name := range names {
		rec, err := c.Zap(r, string(name))
		if err != nil {
			return nil, err
		}

		out = append(out, rec)
	}

	return out, nil
}

func (c *Catalogue) active(r db.Reader, name string) (Record, Zap, error) {
	rec, err := c.Zap(r, name)
	if err != nil {
		return Record{}, nil, err
	}

	z, ok := c.adapters[name]
	if !ok {
		return Record{}, nil, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_ZAP", "no adapter named %q", name)
	}

	return rec, z, nil
}

// DeployStrategy moves amounts, one per required asset, from the LP account into
// the zap's venue. Zero amounts are skipped.
func (c *Catalogue) DeployStrategy(w db.Writer, ctx access.Context, name string, amounts []*uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleLp); err != nil {
		return err
	}

	rec, z, err := c.active(w, name)
	if err != nil {
		return err
	}

	if len(amounts) != len(rec.Assets) {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidLength, "%d amounts for %d assets", len(amounts), len(rec.Assets))
	}

	nonZero := false

	for _, a := range amounts {
		if a != nil && !a.IsZero() {
			nonZero = true
		}
	}

	if !nonZero {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	return db.Atomic(w, func(w db.Writer) error {
		if err := z.Deploy(w, c.account, amounts); err != nil {
			return apperr.External(apperr.ReasonReverted, err)
		}

		c.log.Info().Str("zap", name).Msg("strategy deployed")

		return c.oracle.Lock(w)
	})
}

// UnwindStrategy redeems amount of the zap's position into underlyer index.
func (c *Catalogue) UnwindStrategy(w db.Writer, ctx access.Context, name string, amount *uint256.Int, index uint8) error {
	if err := access.Require(w, ctx, access.RoleLp); err != nil {
		return err
	}

	rec, z, err := c.active(w, name)
	if err != nil {
		return err
	}

	if int(index) >= len(rec.Assets) {
		return apperr.Newf(apperr.ErrInvalidState, "INVALID_INDEX", "underlyer %d of %d", index, len(rec.Assets))
	}

	if index == 0 && rec.Policy.PrimaryWithdrawBlocked {
		return apperr.Newf(apperr.ErrPolicyViolation, apperr.ReasonCantWithdrawPrimary, "zap %q", name)
	}

	if amount == nil || amount.IsZero() {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	return db.Atomic(w, func(w db.Writer) error {
		if err := z.Unwind(w, c.account, amount, index); err != nil {
			return apperr.External(apperr.ReasonReverted, err)
		}

		c.log.Info().Str("zap", name).Uint8("index", index).Stringer("amount", amount).Msg("strategy unwound")

		return c.oracle.Lock(w)
	})
}

// Claim harvests rewards from every named zap. For each reward token the fee share
// of what the LP account received goes to the treasury.
func (c *Catalogue) Claim(w db.Writer, ctx access.Context, names []string) ([]Harvest, error) {
	if err := access.Require(w, ctx, access.RoleLp); err != nil {
		return nil, err
	}

	if len(names) == 0 {
		return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonInvalidLength)
	}

	var harvests []Harvest

	err := db.Atomic(w, func(w db.Writer) error {
		treasury, err := c.Treasury(w)
		if err != nil {
			return err
		}

		for _, name := range names {
			_, z, err := c.active(w, name)
			if err != nil {
				return err
			}

			rewardTokens := z.RewardTokens()
			before := make([]*uint256.Int, len(rewardTokens))

			for i, token := range rewardTokens {
				if before[i], err = tokens.BalanceOf(w, c.account, token); err != nil {
					return err
				}
			}

			if err := z.Claim(w, c.account); err != nil {
				return apperr.External(apperr.ReasonReverted, err)
			}

			for i, token := range rewardTokens {
				h, err := c.skim(w, name, token, before[i], treasury)
				if err != nil {
					return err
				}

				harvests = append(harvests, h)
			}
		}

		return c.oracle.Lock(w)
	})
	if err != nil {
		return nil, err
	}

	return harvests, nil
}

func (c *Catalogue) skim(w db.Writer, name string, token common.Address, before *uint256.Int, treasury common.Address) (Harvest, error) {
	after, err := tokens.BalanceOf(w, c.account, token)
	if err != nil {
		return Harvest{}, err
	}

	harvested := new(uint256.Int)
	if after.Gt(before) {
		harvested.Sub(after, before)
	}

	bps, err := c.RewardFee(w, token)
	if err != nil {
		return Harvest{}, err
	}

	fee, err := Skim(harvested, bps)
	if err != nil {
		return Harvest{}, err
	}

	if !fee.IsZero() {
		if treasury == (common.Address{}) {
			return Harvest{}, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonTreasuryNotSet, "fee on %s", token.Hex())
		}

		if err := tokens.Transfer(w, token, c.account, treasury, fee); err != nil {
			return Harvest{}, err
		}
	}

	c.log.Info().
		Str("zap", name).
		Str("token", token.Hex()).
		Stringer("harvested", harvested).
		Stringer("fee", fee).
		Msg("rewards claimed")

	return Harvest{Zap: name, Token: token, Harvested: harvested, Fee: fee}, nil
}
