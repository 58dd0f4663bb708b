package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/erigon-lib/kv"
	"github.com/ledgerwatch/erigon-lib/kv/mdbx"
	mdbxlog "github.com/ledgerwatch/log/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/keeper"
	"github.com/0xAtelerix/yieldchain/application/ledger"
	"github.com/0xAtelerix/yieldchain/application/oracle"
)

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	emergency = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	operator  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	feeder    = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	lpAccount = common.HexToAddress("0x00000000000000000000000000000000000000ac")
	treasury  = common.HexToAddress("0x00000000000000000000000000000000000007e5")
	user      = common.HexToAddress("0x0000000000000000000000000000000000000101")
	other     = common.HexToAddress("0x0000000000000000000000000000000000000002")

	dai  = common.HexToAddress("0x00000000000000000000000000000000000000da")
	usdc = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	crv  = common.HexToAddress("0x0000000000000000000000000000000000000c7f")

	curvePool  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	curveLp    = common.HexToAddress("0x0000000000000000000000000000000000000b19")
	curveGauge = common.HexToAddress("0x0000000000000000000000000000000000001003")
	gaugeRcpt  = common.HexToAddress("0x0000000000000000000000000000000000000a96")
	daiPool    = common.HexToAddress("0x0000000000000000000000000000000000002001")

	genesisTime = time.Unix(1_700_000_000, 0)
)

func units(n uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))))
}

func testConfig() Config {
	return Config{
		LpAccount: lpAccount,
		Feeder:    feeder,
		Keeper: keeper.Config{
			Schedule: "@every 1s",
			Feeds: map[string]common.Address{
				"DAI":  dai,
				"USDC": usdc,
			},
		},
		Venues: VenuesConfig{
			StableSwaps: []StableSwapConfig{{
				Name:    "curve",
				Address: curvePool,
				Coins:   []common.Address{dai, usdc},
				LpToken: curveLp,
				Gauge: GaugeConfig{
					Address:      curveGauge,
					Receipt:      gaugeRcpt,
					RewardTokens: []common.Address{crv},
				},
			}},
		},
	}
}

func testGenesis() Genesis {
	return Genesis{
		Roles: map[string][]common.Address{
			"admin":         {admin},
			"emergency":     {emergency},
			"lp":            {operator},
			"oracle-feeder": {feeder},
		},
		Tokens: []GenesisToken{
			{Address: dai, Symbol: "DAI", Decimals: 18, Balances: map[common.Address]*uint256.Int{
				lpAccount: units(1_000, 18),
				user:      units(50, 18),
			}},
			{Address: usdc, Symbol: "USDC", Decimals: 6, Balances: map[common.Address]*uint256.Int{
				lpAccount: units(1_000, 6),
			}},
			{Address: crv, Symbol: "CRV", Decimals: 18},
		},
		TrackedTokens: []common.Address{dai, usdc},
		Pools:         []ledger.Pool{{ID: "dai", Token: dai, Address: daiPool, ReservePercentage: 5}},
		Zaps:          []GenesisZap{{Name: "curve"}},
		RewardFees:    []GenesisFee{{Token: crv, Bps: 1_500}},
		Treasury:      treasury,
		Prices: map[common.Address]*uint256.Int{
			dai:  uint256.NewInt(100_000_000),
			usdc: uint256.NewInt(100_000_000),
		},
	}
}

type testChain struct {
	store kv.RwDB
	app   *Appchain
	st    *StateTransition
	clock *manualClock
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func newTestDB(t testing.TB) kv.RwDB {
	t.Helper()

	store, err := mdbx.NewMDBX(mdbxlog.New()).
		Path(filepath.Join(t.TempDir(), "state.mdbx")).
		WithTableCfg(func(_ kv.TableCfg) kv.TableCfg {
			return db.Tables()
		}).
		Open()
	require.NoError(t, err)

	t.Cleanup(store.Close)

	return store
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	clock := &manualClock{now: genesisTime}

	app, err := New(testConfig(), clock, zerolog.Nop())
	require.NoError(t, err)

	store := newTestDB(t)
	require.NoError(t, InitializeGenesis(context.Background(), store, app, testGenesis()))

	return &testChain{
		store: store,
		app:   app,
		st:    NewStateTransition(app, nil, zerolog.Nop()),
		clock: clock,
	}
}

// block applies txs as one block and returns it with its receipts.
func (c *testChain) block(t *testing.T, txs ...Transaction) (*Block, []Receipt) {
	t.Helper()

	var block *Block

	err := c.store.Update(context.Background(), func(tx kv.RwTx) error {
		var err error

		block, err = c.st.ProcessBlock(tx, c.clock.Now().Unix(), txs)

		return err
	})
	require.NoError(t, err)

	receipts := make([]Receipt, len(block.Transactions))

	c.view(t, func(r db.Reader) {
		for i, h := range block.Transactions {
			rec, err := ReadReceipt(r, h)
			require.NoError(t, err)

			receipts[i] = rec
		}
	})

	return block, receipts
}

func (c *testChain) view(t *testing.T, fn func(r db.Reader)) {
	t.Helper()

	require.NoError(t, c.store.View(context.Background(), func(tx kv.Tx) error {
		fn(tx)

		return nil
	}))
}

func txOf(t testing.TB, sender common.Address, kind string, payload any, nonce uint64) Transaction {
	t.Helper()

	var raw []byte

	if payload != nil {
		var err error

		raw, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	return Transaction{Sender: sender, Kind: kind, Payload: raw, Nonce: nonce}
}

var _ oracle.Clock = (*manualClock)(nil)
