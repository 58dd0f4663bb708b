package keeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/allocation"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/oracle"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	lp        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	feeder    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	lpAccount = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	usdc      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	dai       = common.HexToAddress("0x00000000000000000000000000000000000000da")
	frax      = common.HexToAddress("0x00000000000000000000000000000000000000f7")

	providerAddr = contracts.SystemAddress("test.erc20-provider")
)

type memorySnapshots struct {
	w *db.Overlay
}

func (m memorySnapshots) View(_ context.Context, fn func(r db.Reader) error) error {
	return fn(m.w)
}

type recordingPoster struct {
	mu     sync.Mutex
	tvls   []*uint256.Int
	prices map[common.Address]*uint256.Int
}

func (p *recordingPoster) PostPrice(_ context.Context, asset common.Address, price *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.prices == nil {
		p.prices = make(map[common.Address]*uint256.Int)
	}

	p.prices[asset] = price

	return nil
}

func (p *recordingPoster) PostTvl(_ context.Context, value *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tvls = append(p.tvls, value)

	return nil
}

func (p *recordingPoster) posted() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.tvls)
}

type fixture struct {
	w        *db.Overlay
	adapter  *oracle.Adapter
	registry *allocation.Registry
	provider *allocation.TokenProvider
	poster   *recordingPoster
}

func units(n uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	w := db.NewMemory()

	require.NoError(t, access.Grant(w, access.RoleAdmin, admin))
	require.NoError(t, access.Grant(w, access.RoleLp, lp))
	require.NoError(t, access.Grant(w, access.RoleOracleFeeder, feeder))

	require.NoError(t, tokens.Deploy(w, usdc, tokens.Meta{Symbol: "USDC", Decimals: 6}))
	require.NoError(t, tokens.Deploy(w, dai, tokens.Meta{Symbol: "DAI", Decimals: 18}))
	require.NoError(t, tokens.Deploy(w, frax, tokens.Meta{Symbol: "FRAX", Decimals: 18}))

	now := time.Unix(1_700_000_000, 0)
	adapter := oracle.NewAdapter(oracle.Config{}, oracle.ClockFunc(func() time.Time { return now }), zerolog.Nop())

	calls := contracts.NewDispatcher()
	calls.AddResolver(tokens.Resolver)

	registry := allocation.NewRegistry(lpAccount, calls, adapter, zerolog.Nop())
	provider := allocation.NewTokenProvider(providerAddr, calls, registry)

	require.NoError(t, registry.Register(w, access.As(admin), providerAddr))

	for _, token := range []common.Address{usdc, dai, frax} {
		require.NoError(t, provider.RegisterTokenByAddress(w, access.As(lp), token))
	}

	return &fixture{w: w, adapter: adapter, registry: registry, provider: provider, poster: &recordingPoster{}}
}

func (f *fixture) keeper(cfg Config) *Keeper {
	return New(cfg, memorySnapshots{w: f.w}, f.registry, f.adapter, f.poster, zerolog.Nop())
}

func TestValueSumsHeldAllocations(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, tokens.Mint(f.w, dai, lpAccount, units(100, 18)))
	require.NoError(t, tokens.Mint(f.w, usdc, lpAccount, units(50, 6)))

	require.NoError(t, f.adapter.SubmitPrice(f.w, access.As(feeder), dai, uint256.NewInt(99_000_000)))
	require.NoError(t, f.adapter.SubmitPrice(f.w, access.As(feeder), usdc, units(1, 8)))

	// the lock does not apply to source prices
	require.NoError(t, f.adapter.Lock(f.w))

	// FRAX has no feed but is not held
	k := f.keeper(Config{Feeds: map[string]common.Address{"DAI": dai, "USDC": usdc}})

	tvl, err := k.Value(f.w)
	require.NoError(t, err)
	require.Equal(t, units(149, 8), tvl)

	require.NoError(t, tokens.Mint(f.w, frax, lpAccount, units(1, 18)))

	_, err = k.Value(f.w)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestValueFailsWithoutSource(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, tokens.Mint(f.w, dai, lpAccount, units(1, 18)))

	k := f.keeper(Config{Feeds: map[string]common.Address{"DAI": dai}})

	_, err := k.Value(f.w)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunPostsFixedPricesAndTvl(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, tokens.Mint(f.w, usdc, lpAccount, units(250, 6)))

	k := f.keeper(Config{
		Feeds:  map[string]common.Address{"USDC": usdc},
		Prices: map[common.Address]uint64{usdc: 100_000_000},
	})

	require.NoError(t, k.Run(context.Background()))

	require.Equal(t, uint64(100_000_000), f.poster.prices[usdc].Uint64())
	require.Equal(t, []*uint256.Int{units(250, 8)}, f.poster.tvls)
}

func TestEmptyRegistryPostsZero(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.keeper(Config{}).Run(context.Background()))
	require.Len(t, f.poster.tvls, 1)
	require.True(t, f.poster.tvls[0].IsZero())
}

func TestScheduleStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	k := f.keeper(Config{Schedule: "@every 1s"})

	require.ErrorIs(t, k.Stop(), ErrNotStarted)

	require.NoError(t, k.Start(context.Background()))
	require.NoError(t, k.Start(context.Background()))

	require.Eventually(t, func() bool {
		return f.poster.posted() > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, k.Stop())
}

func TestBadSchedule(t *testing.T) {
	f := newFixture(t)

	require.Error(t, f.keeper(Config{Schedule: "every now and then"}).Start(context.Background()))
}
