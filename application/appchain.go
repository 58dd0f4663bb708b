package application

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/allocation"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/ledger"
	"github.com/0xAtelerix/yieldchain/application/oracle"
	"github.com/0xAtelerix/yieldchain/application/tokens"
	"github.com/0xAtelerix/yieldchain/application/venues"
	"github.com/0xAtelerix/yieldchain/application/zaps"
)

// rewardVenue is a venue whose rewards the admin can notify.
type rewardVenue interface {
	Address() common.Address
	NotifyReward(w db.Writer, ctx access.Context, account, token common.Address, amount *uint256.Int) error
}

// Appchain wires the protocol components together. It holds no state of its own;
// everything lives in the store passed to each operation.
type Appchain struct {
	cfg Config
	log zerolog.Logger

	Calls     *contracts.Dispatcher
	Oracle    *oracle.Adapter
	Registry  *allocation.Registry
	Provider  *allocation.TokenProvider
	Ledger    *ledger.Ledger
	Catalogue *zaps.Catalogue

	rewards map[common.Address]rewardVenue
}

func New(cfg Config, clock oracle.Clock, log zerolog.Logger) (*Appchain, error) {
	cfg.applyDefaults()

	if cfg.LpAccount == (common.Address{}) {
		return nil, fmt.Errorf("lp account: %w", ErrMissingConfig)
	}

	app := &Appchain{
		cfg:     cfg,
		log:     log,
		Calls:   contracts.NewDispatcher(),
		rewards: make(map[common.Address]rewardVenue),
	}

	app.Calls.AddResolver(tokens.Resolver)

	app.Oracle = oracle.NewAdapter(cfg.Oracle, clock, log)
	app.Registry = allocation.NewRegistry(cfg.LpAccount, app.Calls, app.Oracle, log)
	app.Provider = allocation.NewTokenProvider(TokenProviderAddress, app.Calls, app.Registry)
	app.Ledger = ledger.New(LedgerAddress, cfg.LpAccount, app.Oracle, app.Provider, log)
	app.Catalogue = zaps.NewCatalogue(cfg.LpAccount, CatalogueAddress, app.Provider, app.Registry, app.Oracle, log)

	if err := app.bindVenues(cfg.Venues); err != nil {
		return nil, err
	}

	return app, nil
}

func (app *Appchain) Config() Config {
	return app.cfg
}

func (app *Appchain) bindVenues(cfg VenuesConfig) error {
	stableSwaps := make(map[string]*venues.StableSwap, len(cfg.StableSwaps))

	for _, c := range cfg.StableSwaps {
		pool, err := venues.NewStableSwap(c.Address, c.Coins, c.LpToken, c.FeeBps)
		if err != nil {
			return fmt.Errorf("stable swap %s: %w", c.Name, err)
		}

		gauge, err := venues.NewGauge(c.Gauge.Address, c.LpToken, c.Gauge.Receipt, c.Gauge.RewardTokens)
		if err != nil {
			return fmt.Errorf("gauge of %s: %w", c.Name, err)
		}

		stableSwaps[c.Name] = pool
		app.rewards[gauge.Address()] = gauge
		app.Catalogue.Bind(zaps.NewStableSwapZap(c.Name, pool, gauge, app.Calls))
	}

	for _, c := range cfg.MetaPools {
		base, ok := stableSwaps[c.Base]
		if !ok {
			return fmt.Errorf("meta pool %s: base %q: %w", c.Name, c.Base, ErrMissingConfig)
		}

		swap, err := venues.NewStableSwap(c.Address, []common.Address{c.Primary, base.LpToken()}, c.LpToken, c.FeeBps)
		if err != nil {
			return fmt.Errorf("meta pool %s: %w", c.Name, err)
		}

		pool, err := venues.NewMetaPool(swap, base)
		if err != nil {
			return fmt.Errorf("meta pool %s: %w", c.Name, err)
		}

		gauge, err := venues.NewGauge(c.Gauge.Address, c.LpToken, c.Gauge.Receipt, c.Gauge.RewardTokens)
		if err != nil {
			return fmt.Errorf("gauge of %s: %w", c.Name, err)
		}

		app.rewards[gauge.Address()] = gauge
		app.Catalogue.Bind(zaps.NewMetaPoolZap(c.Name, pool, gauge, app.Calls))
	}

	for _, c := range cfg.Lending {
		pool, err := venues.NewLendingPool(c.Address, c.Reserves, c.RewardTokens)
		if err != nil {
			return fmt.Errorf("lending %s: %w", c.Name, err)
		}

		assets := make([]common.Address, 0, len(c.Reserves))
		for _, res := range c.Reserves {
			assets = append(assets, res.Asset)
		}

		app.rewards[pool.Address()] = pool
		app.Catalogue.Bind(zaps.NewLendingZap(c.Name, pool, assets, app.Calls))
	}

	return nil
}

// RewardVenues lists venues that accept reward notifications.
func (app *Appchain) RewardVenues() []common.Address {
	out := make([]common.Address, 0, len(app.rewards))
	for addr := range app.rewards {
		out = append(out, addr)
	}

	slices.SortFunc(out, func(a, b common.Address) int {
		return a.Cmp(b)
	})

	return out
}
