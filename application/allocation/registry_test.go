package allocation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	lp        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	system    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	lpAccount = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	whale     = common.HexToAddress("0x0000000000000000000000000000000000000077")
	usdc      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	dai       = common.HexToAddress("0x00000000000000000000000000000000000000da")

	providerAddr = contracts.SystemAddress("test.erc20-provider")
)

type countingLocker struct {
	locks int
}

func (l *countingLocker) Lock(db.Writer) error {
	l.locks++

	return nil
}

type fixture struct {
	w        *db.Overlay
	locker   *countingLocker
	calls    *contracts.Dispatcher
	registry *Registry
	provider *TokenProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	w := db.NewMemory()

	require.NoError(t, access.Grant(w, access.RoleAdmin, admin))
	require.NoError(t, access.Grant(w, access.RoleLp, lp))
	require.NoError(t, access.Grant(w, access.RoleContract, system))

	require.NoError(t, tokens.Deploy(w, usdc, tokens.Meta{Symbol: "USDC", Decimals: 6}))
	require.NoError(t, tokens.Deploy(w, dai, tokens.Meta{Symbol: "DAI", Decimals: 18}))
	require.NoError(t, tokens.Mint(w, usdc, whale, uint256.NewInt(10_000_000_000)))

	calls := contracts.NewDispatcher()
	calls.AddResolver(tokens.Resolver)

	locker := &countingLocker{}
	registry := NewRegistry(lpAccount, calls, locker, zerolog.Nop())

	return &fixture{
		w:        w,
		locker:   locker,
		calls:    calls,
		registry: registry,
		provider: NewTokenProvider(providerAddr, calls, registry),
	}
}

func TestAllocationIDIsDeterministic(t *testing.T) {
	lookup := contracts.MustPack(contracts.ERC20ABI, "balanceOf", lpAccount)

	require.Equal(t, NewID(usdc, lookup, 0), NewID(usdc, lookup, 0))
	require.NotEqual(t, NewID(usdc, lookup, 0), NewID(usdc, lookup, 1))
	require.NotEqual(t, NewID(usdc, lookup, 0), NewID(dai, lookup, 0))

	id := NewID(usdc, lookup, 0)
	text, err := id.MarshalText()
	require.NoError(t, err)

	var parsed ID
	require.NoError(t, parsed.UnmarshalText(text))
	require.Equal(t, id, parsed)

	require.Error(t, parsed.UnmarshalText([]byte("0x1234")))
}

func TestAddAllocationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	lookup := contracts.MustPack(contracts.ERC20ABI, "balanceOf", lpAccount)

	id, err := f.registry.AddAllocation(f.w, access.As(admin), usdc, lookup, "USDC", 6)
	require.NoError(t, err)
	require.Equal(t, 1, f.locker.locks)

	again, err := f.registry.AddAllocation(f.w, access.As(admin), usdc, lookup, "USDC", 6)
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 1, f.locker.locks)

	ids, err := f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff([]ID{id}, ids))

	_, err = f.registry.AddAllocation(f.w, access.As(lp), usdc, lookup, "USDC", 6)
	require.ErrorIs(t, err, apperr.ErrPermissionDenied)

	err = f.registry.RemoveAllocation(f.w, access.As(admin), NewID(dai, lookup, 0))
	require.ErrorIs(t, err, apperr.ErrNotFound)
	require.Equal(t, 1, f.locker.locks)
}

func TestRawAllocationBalanceLifecycle(t *testing.T) {
	f := newFixture(t)
	lookup := contracts.MustPack(contracts.ERC20ABI, "balanceOf", lpAccount)

	id, err := f.registry.AddAllocation(f.w, access.As(admin), usdc, lookup, "USDC", 6)
	require.NoError(t, err)

	balance, err := f.registry.BalanceOf(f.w, id)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	amount := uint256.NewInt(1000 * 1_000_000)
	require.NoError(t, tokens.Transfer(f.w, usdc, whale, lpAccount, amount))

	balance, err = f.registry.BalanceOf(f.w, id)
	require.NoError(t, err)
	require.Equal(t, amount, balance)

	require.NoError(t, tokens.Transfer(f.w, usdc, lpAccount, whale, amount))

	balance, err = f.registry.BalanceOf(f.w, id)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	symbol, err := f.registry.SymbolOf(f.w, id)
	require.NoError(t, err)
	require.Equal(t, "USDC", symbol)

	decimals, err := f.registry.DecimalsOf(f.w, id)
	require.NoError(t, err)
	require.Equal(t, uint8(6), decimals)

	require.NoError(t, f.registry.RemoveAllocation(f.w, access.As(admin), id))

	_, err = f.registry.BalanceOf(f.w, id)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBalanceOfExternalFailures(t *testing.T) {
	f := newFixture(t)

	// no contract behind the target
	nowhere := common.HexToAddress("0x0000000000000000000000000000000000000404")
	id, err := f.registry.AddAllocation(f.w, access.As(admin), nowhere,
		contracts.MustPack(contracts.ERC20ABI, "balanceOf", lpAccount), "X", 18)
	require.NoError(t, err)

	_, err = f.registry.BalanceOf(f.w, id)
	require.ErrorIs(t, err, apperr.ErrExternalCall)

	// returns a string, not a single word
	id, err = f.registry.AddAllocation(f.w, access.As(admin), usdc,
		contracts.MustPack(contracts.ERC20ABI, "symbol"), "USDC", 6)
	require.NoError(t, err)

	_, err = f.registry.BalanceOf(f.w, id)
	require.ErrorIs(t, err, apperr.ErrExternalCall)
	require.Equal(t, apperr.ReasonMalformedReturn, apperr.ReasonOf(err))

	// selector the token does not implement
	id, err = f.registry.AddAllocation(f.w, access.As(admin), usdc, []byte{0xde, 0xad, 0xbe, 0xef}, "USDC", 6)
	require.NoError(t, err)

	_, err = f.registry.BalanceOf(f.w, id)
	require.ErrorIs(t, err, apperr.ErrExternalCall)
}

func TestTokenProviderUSDCScenario(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.registry.Register(f.w, access.As(admin), providerAddr))
	require.NoError(t, f.provider.RegisterToken(f.w, access.As(lp), usdc, "USDC", 6))

	ids, err := f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	id := ids[0]

	balance, err := f.registry.BalanceOf(f.w, id)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	amount := uint256.NewInt(1000 * 1_000_000)
	require.NoError(t, tokens.Transfer(f.w, usdc, whale, lpAccount, amount))

	balance, err = f.registry.BalanceOf(f.w, id)
	require.NoError(t, err)
	require.Equal(t, amount, balance)

	// provider allocations follow the provider's token set
	locks := f.locker.locks
	err = f.registry.RemoveAllocation(f.w, access.As(admin), id)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	require.Equal(t, apperr.ReasonProvided, apperr.ReasonOf(err))
	require.Equal(t, locks, f.locker.locks)

	require.NoError(t, f.registry.Sync(f.w, providerAddr))

	ids, err = f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Equal(t, []ID{id}, ids)

	require.NoError(t, f.provider.RemoveToken(f.w, access.As(lp), usdc))

	_, err = f.registry.BalanceOf(f.w, id)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTokenProviderTiers(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.registry.Register(f.w, access.As(admin), providerAddr))

	locks := f.locker.locks

	// the system tier may not supply metadata
	err := f.provider.RegisterToken(f.w, access.As(system), dai, "FAKE", 2)
	require.ErrorIs(t, err, apperr.ErrPermissionDenied)

	require.NoError(t, f.provider.RegisterTokenByAddress(f.w, access.As(system), dai))
	require.Equal(t, locks+1, f.locker.locks)

	// registering again is a no-op
	require.NoError(t, f.provider.RegisterTokenByAddress(f.w, access.As(system), dai))
	require.NoError(t, f.provider.RegisterToken(f.w, access.As(lp), dai, "DAI", 18))
	require.Equal(t, locks+1, f.locker.locks)

	entries, err := f.provider.Tokens(f.w)
	require.NoError(t, err)
	require.Equal(t, []Erc20Entry{{Token: dai, Symbol: "DAI", Decimals: 18}}, entries)

	nowhere := common.HexToAddress("0x0000000000000000000000000000000000000404")
	err = f.provider.RegisterTokenByAddress(f.w, access.As(system), nowhere)
	require.ErrorIs(t, err, apperr.ErrExternalCall)

	err = f.provider.RemoveToken(f.w, access.As(lp), usdc)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProviderSyncFollowsTokenSet(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.provider.RegisterToken(f.w, access.As(lp), usdc, "USDC", 6))
	require.NoError(t, f.provider.RegisterToken(f.w, access.As(lp), dai, "DAI", 18))

	// nothing is visible until the provider is registered
	ids, err := f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, f.registry.Register(f.w, access.As(admin), providerAddr))

	ids, err = f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	symbol, err := f.registry.SymbolOf(f.w, ids[1])
	require.NoError(t, err)
	require.Equal(t, "DAI", symbol)

	// removing usdc shifts dai to index 0
	require.NoError(t, f.provider.RemoveToken(f.w, access.As(lp), usdc))

	ids, err = f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	symbol, err = f.registry.SymbolOf(f.w, ids[0])
	require.NoError(t, err)
	require.Equal(t, "DAI", symbol)

	providers, err := f.registry.Providers(f.w)
	require.NoError(t, err)
	require.Equal(t, []common.Address{providerAddr}, providers)

	require.NoError(t, f.registry.Deregister(f.w, access.As(admin), providerAddr))

	ids, err = f.registry.AllocationIDs(f.w)
	require.NoError(t, err)
	require.Empty(t, ids)

	require.ErrorIs(t, f.registry.Deregister(f.w, access.As(admin), providerAddr), apperr.ErrNotFound)
}
