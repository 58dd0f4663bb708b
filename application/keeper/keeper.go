// Package keeper recomputes TVL off the transaction path and posts it back as the
// oracle's TVL source. It reads a committed snapshot, values every registered
// allocation at its source price, and hands the result to a Poster that turns it
// into a feeder transaction.
package keeper

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/allocation"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/ledger"
)

const DefaultSchedule = "@every 30s"

var ErrNotStarted = errors.New("keeper not started")

type Config struct {
	Schedule string `yaml:"schedule"`
	// Feeds maps allocation symbols to the asset whose source price values them.
	Feeds map[string]common.Address `yaml:"feeds"`
	// Prices are fixed 8-decimal prices posted for an asset on every run.
	Prices map[common.Address]uint64 `yaml:"prices"`
}

func (c *Config) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
}

// Snapshots opens read-only views of committed state.
type Snapshots interface {
	View(ctx context.Context, fn func(r db.Reader) error) error
}

// Poster submits oracle updates on the keeper's behalf.
type Poster interface {
	PostPrice(ctx context.Context, asset common.Address, price *uint256.Int) error
	PostTvl(ctx context.Context, value *uint256.Int) error
}

// Registry is the part of the allocation registry the keeper values.
type Registry interface {
	AllocationIDs(r db.Reader) ([]allocation.ID, error)
	Allocation(r db.Reader, id allocation.ID) (allocation.Allocation, error)
	BalanceOf(r db.Reader, id allocation.ID) (*uint256.Int, error)
}

// Prices reads source prices, ignoring the oracle lock.
type Prices interface {
	SourcePrice(r db.Reader, asset common.Address) (*uint256.Int, error)
}

type Keeper struct {
	cfg      Config
	state    Snapshots
	registry Registry
	prices   Prices
	poster   Poster
	log      zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func New(cfg Config, state Snapshots, registry Registry, prices Prices, poster Poster, log zerolog.Logger) *Keeper {
	cfg.applyDefaults()

	return &Keeper{
		cfg:      cfg,
		state:    state,
		registry: registry,
		prices:   prices,
		poster:   poster,
		log:      log.With().Str("component", "keeper").Logger(),
	}
}

// Start runs the keeper on its schedule until ctx is done or Stop is called.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cron != nil {
		return nil
	}

	c := cron.New()

	_, err := c.AddFunc(k.cfg.Schedule, func() {
		if err := k.Run(ctx); err != nil {
			k.log.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("tvl update failed")
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	k.cron = c

	k.log.Info().Str("schedule", k.cfg.Schedule).Msg("keeper started")

	return nil
}

// Stop halts the schedule and waits for a running update to finish.
func (k *Keeper) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cron == nil {
		return ErrNotStarted
	}

	<-k.cron.Stop().Done()
	k.cron = nil

	k.log.Info().Msg("keeper stopped")

	return nil
}

// Run posts the configured fixed prices, then values the registry and posts TVL.
func (k *Keeper) Run(ctx context.Context) error {
	for asset, price := range k.cfg.Prices {
		if err := k.poster.PostPrice(ctx, asset, uint256.NewInt(price)); err != nil {
			return err
		}
	}

	var tvl *uint256.Int

	err := k.state.View(ctx, func(r db.Reader) error {
		var err error

		tvl, err = k.Value(r)

		return err
	})
	if err != nil {
		return err
	}

	k.log.Debug().Stringer("tvl", tvl).Msg("posting tvl")

	return k.poster.PostTvl(ctx, tvl)
}

// Value sums balance*price/10^decimals over every allocation. Empty allocations
// are skipped, so an asset without a price feed only matters once it is held.
func (k *Keeper) Value(r db.Reader) (*uint256.Int, error) {
	ids, err := k.registry.AllocationIDs(r)
	if err != nil {
		return nil, err
	}

	total := new(uint256.Int)

	for _, id := range ids {
		balance, err := k.registry.BalanceOf(r, id)
		if err != nil {
			return nil, err
		}

		if balance.IsZero() {
			continue
		}

		a, err := k.registry.Allocation(r, id)
		if err != nil {
			return nil, err
		}

		price, err := k.price(r, a.Symbol)
		if err != nil {
			return nil, err
		}

		value, err := ledger.ValueOf(balance, price, a.Decimals)
		if err != nil {
			return nil, err
		}

		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonOverflow)
		}
	}

	return total, nil
}

func (k *Keeper) price(r db.Reader, symbol string) (*uint256.Int, error) {
	asset, ok := k.cfg.Feeds[symbol]
	if !ok {
		return nil, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_FEED", "no price feed for %s", symbol)
	}

	// fixed prices are posted in the same run, so they may not be committed yet
	if p, ok := k.cfg.Prices[asset]; ok {
		return uint256.NewInt(p), nil
	}

	return k.prices.SourcePrice(r, asset)
}
