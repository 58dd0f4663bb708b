package venues

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	dai      = common.HexToAddress("0x00000000000000000000000000000000000000da")
	usdc     = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	frax     = common.HexToAddress("0x00000000000000000000000000000000000000f7")
	crv      = common.HexToAddress("0x0000000000000000000000000000000000000c7f")
	baseLp   = common.HexToAddress("0x0000000000000000000000000000000000000b19")
	metaLp   = common.HexToAddress("0x0000000000000000000000000000000000000e19")
	gaugeTok = common.HexToAddress("0x0000000000000000000000000000000000000a96")
	aDai     = common.HexToAddress("0x0000000000000000000000000000000000000ada")

	basePool    = common.HexToAddress("0x0000000000000000000000000000000000001001")
	metaPool    = common.HexToAddress("0x0000000000000000000000000000000000001002")
	gaugeAddr   = common.HexToAddress("0x0000000000000000000000000000000000001003")
	lendingAddr = common.HexToAddress("0x0000000000000000000000000000000000001004")
)

func units(n uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))))
}

func newState(t *testing.T) *db.Overlay {
	t.Helper()

	w := db.NewMemory()

	require.NoError(t, access.Grant(w, access.RoleAdmin, admin))

	for addr, meta := range map[common.Address]tokens.Meta{
		dai:      {Symbol: "DAI", Decimals: 18},
		usdc:     {Symbol: "USDC", Decimals: 6},
		frax:     {Symbol: "FRAX", Decimals: 18},
		crv:      {Symbol: "CRV", Decimals: 18},
		baseLp:   {Symbol: "2CRV", Decimals: 18},
		metaLp:   {Symbol: "FRAX2CRV", Decimals: 18},
		gaugeTok: {Symbol: "2CRV-gauge", Decimals: 18},
		aDai:     {Symbol: "aDAI", Decimals: 18},
	} {
		require.NoError(t, tokens.Deploy(w, addr, meta))
	}

	require.NoError(t, tokens.Mint(w, dai, alice, units(1_000, 18)))
	require.NoError(t, tokens.Mint(w, usdc, alice, units(1_000, 6)))
	require.NoError(t, tokens.Mint(w, frax, alice, units(1_000, 18)))

	return w
}

func TestStableSwapAddAndRemove(t *testing.T) {
	w := newState(t)

	pool, err := NewStableSwap(basePool, []common.Address{dai, usdc}, baseLp, 10)
	require.NoError(t, err)

	minted, err := pool.AddLiquidity(w, alice, []*uint256.Int{units(100, 18), units(100, 6)})
	require.NoError(t, err)
	require.Equal(t, units(200, 18), minted)

	parts, err := pool.Underlying(w, units(100, 18))
	require.NoError(t, err)
	require.Equal(t, []*uint256.Int{units(50, 18), units(50, 6)}, parts)

	out, err := pool.CalcWithdrawOneCoin(w, units(100, 18), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(99_900_000), out.Uint64())

	out, err = pool.RemoveLiquidityOneCoin(w, alice, units(100, 18), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(99_900_000), out.Uint64())

	balance, err := tokens.BalanceOf(w, alice, usdc)
	require.NoError(t, err)
	require.Equal(t, uint64(999_900_000), balance.Uint64())

	// the pool only has 0.1 USDC left
	_, err = pool.RemoveLiquidityOneCoin(w, alice, units(100, 18), 1)
	require.Equal(t, apperr.ReasonInsufficientBalance, apperr.ReasonOf(err))

	_, err = pool.AddLiquidity(w, alice, []*uint256.Int{nil, uint256.NewInt(0)})
	require.Equal(t, apperr.ReasonZeroAmount, apperr.ReasonOf(err))

	_, err = NewStableSwap(basePool, []common.Address{dai}, baseLp, 10_001)
	require.Equal(t, apperr.ReasonInvalidFee, apperr.ReasonOf(err))
}

func TestMetaPoolUnderlying(t *testing.T) {
	w := newState(t)

	base, err := NewStableSwap(basePool, []common.Address{dai, usdc}, baseLp, 10)
	require.NoError(t, err)

	_, err = NewMetaPool(base, base)
	require.Error(t, err)

	mp, err := NewStableSwap(metaPool, []common.Address{frax, baseLp}, metaLp, 0)
	require.NoError(t, err)

	meta, err := NewMetaPool(mp, base)
	require.NoError(t, err)
	require.Equal(t, []common.Address{frax, dai, usdc}, meta.Underlyers())

	minted, err := meta.AddLiquidityUnderlying(w, alice, []*uint256.Int{units(10, 18), units(10, 18), nil})
	require.NoError(t, err)
	require.Equal(t, units(20, 18), minted)

	parts, err := meta.UnderlyingBalances(w, minted)
	require.NoError(t, err)
	require.Equal(t, []*uint256.Int{units(10, 18), units(10, 18), new(uint256.Int)}, parts)

	// the base pool holds no USDC; the metapool leg is rolled back with it
	err = db.Atomic(w, func(w db.Writer) error {
		_, err := meta.RemoveLiquidityUnderlying(w, alice, units(10, 18), 2)

		return err
	})
	require.Equal(t, apperr.ReasonInsufficientBalance, apperr.ReasonOf(err))

	out, err := meta.RemoveLiquidityUnderlying(w, alice, units(10, 18), 1)
	require.NoError(t, err)
	require.Equal(t, "9990000000000000000", out.Dec())

	out, err = meta.RemoveLiquidityUnderlying(w, alice, units(10, 18), 0)
	require.NoError(t, err)
	require.Equal(t, units(10, 18), out)
}

func TestGaugeStakeAndRewards(t *testing.T) {
	w := newState(t)

	pool, err := NewStableSwap(basePool, []common.Address{dai, usdc}, baseLp, 0)
	require.NoError(t, err)

	gauge, err := NewGauge(gaugeAddr, baseLp, gaugeTok, []common.Address{crv})
	require.NoError(t, err)

	lp, err := pool.AddLiquidity(w, alice, []*uint256.Int{units(10, 18), nil})
	require.NoError(t, err)

	require.NoError(t, gauge.Deposit(w, alice, lp))

	staked, err := gauge.BalanceOf(w, alice)
	require.NoError(t, err)
	require.Equal(t, lp, staked)

	require.ErrorIs(t, gauge.NotifyReward(w, access.As(alice), alice, crv, units(1, 18)), apperr.ErrPermissionDenied)
	require.ErrorIs(t, gauge.NotifyReward(w, access.As(admin), alice, dai, units(1, 18)), apperr.ErrNotFound)
	require.NoError(t, gauge.NotifyReward(w, access.As(admin), alice, crv, units(3, 18)))

	require.NoError(t, gauge.Claim(w, alice))

	balance, err := tokens.BalanceOf(w, alice, crv)
	require.NoError(t, err)
	require.Equal(t, units(3, 18), balance)

	// nothing left to claim
	require.NoError(t, gauge.Claim(w, alice))

	balance, err = tokens.BalanceOf(w, alice, crv)
	require.NoError(t, err)
	require.Equal(t, units(3, 18), balance)

	require.NoError(t, gauge.Withdraw(w, alice, lp))

	held, err := tokens.BalanceOf(w, alice, baseLp)
	require.NoError(t, err)
	require.Equal(t, lp, held)
}

func TestLendingPool(t *testing.T) {
	w := newState(t)

	pool, err := NewLendingPool(lendingAddr, []Reserve{{Asset: dai, Receipt: aDai}}, nil)
	require.NoError(t, err)

	require.NoError(t, pool.Deposit(w, alice, dai, units(40, 18)))

	balance, err := pool.BalanceOf(w, alice, dai)
	require.NoError(t, err)
	require.Equal(t, units(40, 18), balance)

	require.ErrorIs(t, pool.Deposit(w, alice, usdc, units(1, 6)), apperr.ErrNotFound)

	require.NoError(t, pool.Withdraw(w, alice, dai, units(15, 18)))

	held, err := tokens.BalanceOf(w, alice, dai)
	require.NoError(t, err)
	require.Equal(t, units(975, 18), held)

	require.ErrorIs(t, pool.Withdraw(w, alice, dai, units(26, 18)), apperr.ErrInvalidState)
}
