package application

import (
	"context"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerwatch/erigon-lib/kv"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
	"github.com/0xAtelerix/yieldchain/application/zaps"
)

// genesisRoles are held by GenesisAddress while genesis is applied and revoked
// afterwards.
//
//nolint:gochecknoglobals // fixed list
var genesisRoles = []access.Role{
	access.RoleAdmin,
	access.RoleLp,
	access.RoleOracleFeeder,
	access.RoleContract,
}

// InitializeGenesis writes g into an empty store. A store that already holds a
// genesis is left alone and ErrGenesisApplied is returned.
func InitializeGenesis(ctx context.Context, store kv.RwDB, app *Appchain, g Genesis) error {
	return store.Update(ctx, func(tx kv.RwTx) error {
		applied, err := tx.GetOne(db.MetaBucket, genesisKey)
		if err != nil {
			return err
		}

		if len(applied) > 0 {
			return ErrGenesisApplied
		}

		return ApplyGenesis(tx, app, g)
	})
}

// ApplyGenesis runs the genesis steps against w through the same operations
// transactions use, acting as GenesisAddress. Nothing reaches w unless every step
// succeeds.
func ApplyGenesis(w db.Writer, app *Appchain, g Genesis) error {
	return db.Atomic(w, func(w db.Writer) error {
		ctx := access.As(GenesisAddress)

		for _, component := range []common.Address{LedgerAddress, CatalogueAddress} {
			if err := access.Grant(w, access.RoleContract, component); err != nil {
				return err
			}
		}

		for _, role := range genesisRoles {
			if err := access.Grant(w, role, GenesisAddress); err != nil {
				return err
			}
		}

		if err := grantConfiguredRoles(w, g.Roles); err != nil {
			return err
		}

		if err := deployTokens(w, app, g.Tokens); err != nil {
			return err
		}

		if err := app.Registry.Register(w, ctx, app.Provider.Address()); err != nil {
			return fmt.Errorf("register token provider: %w", err)
		}

		for _, token := range g.TrackedTokens {
			if err := app.Provider.RegisterTokenByAddress(w, ctx, token); err != nil {
				return fmt.Errorf("track %s: %w", token.Hex(), err)
			}
		}

		for _, p := range g.Pools {
			if err := app.Ledger.RegisterPool(w, ctx, p); err != nil {
				return fmt.Errorf("pool %s: %w", p.ID, err)
			}
		}

		for _, z := range g.Zaps {
			policy := zaps.Policy{PrimaryWithdrawBlocked: z.PrimaryWithdrawBlocked}
			if err := app.Catalogue.RegisterZap(w, ctx, z.Name, policy); err != nil {
				return fmt.Errorf("zap %s: %w", z.Name, err)
			}
		}

		if err := applyFees(w, app, ctx, g); err != nil {
			return err
		}

		for _, asset := range sortedAddresses(g.Prices) {
			if err := app.Oracle.SubmitPrice(w, ctx, asset, orZero(g.Prices[asset])); err != nil {
				return fmt.Errorf("price of %s: %w", asset.Hex(), err)
			}
		}

		// Registering providers and zaps locks the oracle. Genesis state is final,
		// so the chain starts unlocked.
		if err := app.Oracle.Unlock(w, ctx); err != nil {
			return err
		}

		for _, role := range genesisRoles {
			if err := access.Revoke(w, role, GenesisAddress); err != nil {
				return err
			}
		}

		app.log.Info().
			Int("tokens", len(g.Tokens)).
			Int("pools", len(g.Pools)).
			Int("zaps", len(g.Zaps)).
			Msg("genesis applied")

		return w.Put(db.MetaBucket, genesisKey, []byte{1})
	})
}

func grantConfiguredRoles(w db.Writer, roles map[string][]common.Address) error {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		role, err := access.ParseRole(name)
		if err != nil {
			return err
		}

		for _, account := range roles[name] {
			if err := access.Grant(w, role, account); err != nil {
				return err
			}
		}
	}

	return nil
}

// deployTokens creates the listed tokens and their balances, then every venue
// token the configuration names that is not listed.
func deployTokens(w db.Writer, app *Appchain, list []GenesisToken) error {
	for _, t := range list {
		if err := tokens.Deploy(w, t.Address, tokens.Meta{Symbol: t.Symbol, Decimals: t.Decimals}); err != nil {
			return fmt.Errorf("token %s: %w", t.Symbol, err)
		}

		for _, holder := range sortedAddresses(t.Balances) {
			if err := tokens.Mint(w, t.Address, holder, orZero(t.Balances[holder])); err != nil {
				return fmt.Errorf("mint %s: %w", t.Symbol, err)
			}
		}
	}

	for _, vt := range venueTokens(app.cfg.Venues) {
		_, exists, err := tokens.MetaOf(w, vt.address)
		if err != nil {
			return err
		}

		if exists {
			continue
		}

		meta := vt.meta

		if vt.mirror != (common.Address{}) {
			underlying, ok, err := tokens.MetaOf(w, vt.mirror)
			if err != nil {
				return err
			}

			if ok {
				meta.Decimals = underlying.Decimals
			}
		}

		if err := tokens.Deploy(w, vt.address, meta); err != nil {
			return fmt.Errorf("venue token %s: %w", vt.meta.Symbol, err)
		}
	}

	return nil
}

type venueToken struct {
	address common.Address
	meta    tokens.Meta
	// mirror is the asset whose decimals the token copies, if any.
	mirror common.Address
}

// venueTokens lists the tokens venues issue: LP tokens, gauge receipts and lending
// receipts. Lending receipts copy the decimals of their reserve asset; the rest
// use 18.
func venueTokens(cfg VenuesConfig) []venueToken {
	var out []venueToken

	issued := func(addr common.Address, symbol string) {
		out = append(out, venueToken{address: addr, meta: tokens.Meta{Symbol: symbol, Decimals: 18}})
	}

	for _, c := range cfg.StableSwaps {
		issued(c.LpToken, c.Name+"-lp")
		issued(c.Gauge.Receipt, c.Name+"-gauge")
	}

	for _, c := range cfg.MetaPools {
		issued(c.LpToken, c.Name+"-lp")
		issued(c.Gauge.Receipt, c.Name+"-gauge")
	}

	for _, c := range cfg.Lending {
		for _, res := range c.Reserves {
			out = append(out, venueToken{
				address: res.Receipt,
				meta:    tokens.Meta{Symbol: c.Name + "-" + res.Asset.Hex()[2:8], Decimals: 18},
				mirror:  res.Asset,
			})
		}
	}

	return out
}

func applyFees(w db.Writer, app *Appchain, ctx access.Context, g Genesis) error {
	if g.Treasury != (common.Address{}) {
		if err := app.Catalogue.SetTreasury(w, ctx, g.Treasury); err != nil {
			return err
		}
	}

	if len(g.RewardFees) == 0 {
		return nil
	}

	tokenList := make([]common.Address, len(g.RewardFees))
	fees := make([]uint16, len(g.RewardFees))

	for i, f := range g.RewardFees {
		tokenList[i] = f.Token
		fees[i] = f.Bps
	}

	return app.Catalogue.RegisterMultipleRewardFees(w, ctx, tokenList, fees)
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}

	slices.SortFunc(out, func(a, b common.Address) int {
		return a.Cmp(b)
	})

	return out
}
