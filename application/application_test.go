package application

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/ledgerwatch/erigon-lib/kv"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/tokens"
)

func TestGenesisSeedsState(t *testing.T) {
	c := newTestChain(t)

	c.view(t, func(r db.Reader) {
		ok, err := access.Has(r, access.RoleAdmin, admin)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = access.Has(r, access.RoleContract, CatalogueAddress)
		require.NoError(t, err)
		require.True(t, ok)

		for _, role := range genesisRoles {
			ok, err = access.Has(r, role, GenesisAddress)
			require.NoError(t, err)
			require.False(t, ok, role.String())
		}

		held, err := tokens.BalanceOf(r, user, dai)
		require.NoError(t, err)
		require.Equal(t, units(50, 18), held)

		meta, ok, err := tokens.MetaOf(r, curveLp)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tokens.Meta{Symbol: "curve-lp", Decimals: 18}, meta)

		locked, err := c.app.Oracle.IsLocked(r)
		require.NoError(t, err)
		require.False(t, locked)

		price, err := c.app.Oracle.GetPrice(r, usdc)
		require.NoError(t, err)
		require.Equal(t, uint256.NewInt(100_000_000), price)

		zs, err := c.app.Catalogue.Zaps(r)
		require.NoError(t, err)
		require.Len(t, zs, 1)
		require.Equal(t, "curve", zs[0].Name)

		pools, err := c.app.Ledger.Pools(r)
		require.NoError(t, err)
		require.Len(t, pools, 1)

		got, err := c.app.Catalogue.Treasury(r)
		require.NoError(t, err)
		require.Equal(t, treasury, got)

		fee, err := c.app.Catalogue.RewardFee(r, crv)
		require.NoError(t, err)
		require.Equal(t, uint16(1_500), fee)

		ids, err := c.app.Registry.AllocationIDs(r)
		require.NoError(t, err)
		require.NotEmpty(t, ids)
	})

	err := InitializeGenesis(context.Background(), c.store, c.app, testGenesis())
	require.ErrorIs(t, err, ErrGenesisApplied)
}

func TestBadGenesisWritesNothing(t *testing.T) {
	app, err := New(testConfig(), &manualClock{now: genesisTime}, zerolog.Nop())
	require.NoError(t, err)

	store := newTestDB(t)

	g := testGenesis()
	g.Zaps = append(g.Zaps, GenesisZap{Name: "missing"})

	err = InitializeGenesis(context.Background(), store, app, g)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, store.View(context.Background(), func(tx kv.Tx) error {
		ok, err := access.Has(tx, access.RoleAdmin, admin)
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = tokens.MetaOf(tx, dai)
		require.NoError(t, err)
		require.False(t, ok)

		return nil
	}))
}

func TestBlocksChainAndStoreReceipts(t *testing.T) {
	c := newTestChain(t)

	send := txOf(t, user, KindTransfer, TransferPayload{Token: dai, To: other, Amount: units(10, 18)}, 1)
	tooMuch := txOf(t, user, KindTransfer, TransferPayload{Token: dai, To: other, Amount: units(41, 18)}, 2)

	first, receipts := c.block(t, send, tooMuch)
	require.Equal(t, uint64(1), first.Number())
	require.Equal(t, common.Hash{}, first.Parent)
	require.Equal(t, []common.Hash{send.Hash(), tooMuch.Hash()}, first.Transactions)

	require.Equal(t, ReceiptConfirmed, receipts[0].Status())
	require.Equal(t, uint64(1), receipts[0].Block)
	require.Equal(t, ReceiptFailed, receipts[1].Status())
	require.Equal(t, string(apperr.ErrInvalidState), receipts[1].ErrorKind)
	require.Equal(t, apperr.ReasonInsufficientBalance, receipts[1].Reason)

	root, err := NewRootCalculator().ReceiptsRoot(receipts)
	require.NoError(t, err)
	require.Equal(t, root, first.StateRoot())

	c.clock.now = c.clock.now.Add(time.Second)

	second, _ := c.block(t)
	require.Equal(t, uint64(2), second.Number())
	require.Equal(t, first.Hash(), second.Parent)
	require.Equal(t, common.Hash{}, second.Root)

	c.view(t, func(r db.Reader) {
		head, err := ReadHead(r)
		require.NoError(t, err)
		require.Equal(t, second, head)

		stored, err := ReadBlock(r, 1)
		require.NoError(t, err)
		require.Equal(t, first, stored)

		_, err = ReadBlock(r, 3)
		require.ErrorIs(t, err, ErrBlockNotFound)

		tx, err := ReadTransaction(r, send.Hash())
		require.NoError(t, err)
		require.Equal(t, send.Hash(), tx.Hash())

		_, err = ReadReceipt(r, common.HexToHash("0x01"))
		require.ErrorIs(t, err, ErrTxNotFound)

		held, err := tokens.BalanceOf(r, user, dai)
		require.NoError(t, err)
		require.Equal(t, units(40, 18), held)

		held, err = tokens.BalanceOf(r, other, dai)
		require.NoError(t, err)
		require.Equal(t, units(10, 18), held)
	})
}

func TestRejectedTransactionsReportTaxonomy(t *testing.T) {
	c := newTestChain(t)

	_, receipts := c.block(t,
		txOf(t, user, "selfDestruct", nil, 1),
		Transaction{Sender: user, Kind: KindTransfer, Payload: []byte(`{"amount":true}`), Nonce: 2},
		txOf(t, user, KindGrantRole, RolePayload{Role: "admin", Account: user}, 3),
		txOf(t, admin, KindGrantRole, RolePayload{Role: "root", Account: user}, 4),
	)

	require.Equal(t, string(apperr.ErrNotFound), receipts[0].ErrorKind)
	require.Equal(t, "UNKNOWN_KIND", receipts[0].Reason)

	require.Equal(t, string(apperr.ErrInvalidState), receipts[1].ErrorKind)
	require.Equal(t, "BAD_PAYLOAD", receipts[1].Reason)

	require.Equal(t, string(apperr.ErrPermissionDenied), receipts[2].ErrorKind)
	require.Equal(t, apperr.ReasonMissingRole, receipts[2].Reason)

	for _, r := range receipts {
		require.Equal(t, ReceiptFailed, r.Status())
		require.NotEmpty(t, r.Error())
	}
}

func TestStrategyLifecycleThroughTransactions(t *testing.T) {
	c := newTestChain(t)

	deploy := txOf(t, operator, KindDeployStrategy, DeployPayload{
		Name:    "curve",
		Amounts: []*uint256.Int{units(100, 18), units(100, 6)},
	}, 1)
	overdraw := txOf(t, operator, KindDeployStrategy, DeployPayload{
		Name:    "curve",
		Amounts: []*uint256.Int{units(10, 18), units(5_000, 6)},
	}, 2)

	_, receipts := c.block(t, deploy, overdraw)
	require.Equal(t, ReceiptConfirmed, receipts[0].Status(), receipts[0].ErrorMessage)
	require.Equal(t, ReceiptFailed, receipts[1].Status())
	require.Equal(t, string(apperr.ErrExternalCall), receipts[1].ErrorKind)

	c.view(t, func(r db.Reader) {
		held, err := tokens.BalanceOf(r, lpAccount, dai)
		require.NoError(t, err)
		require.Equal(t, units(900, 18), held)

		held, err = tokens.BalanceOf(r, lpAccount, usdc)
		require.NoError(t, err)
		require.Equal(t, units(900, 6), held)

		locked, err := c.app.Oracle.IsLocked(r)
		require.NoError(t, err)
		require.True(t, locked)

		_, err = c.app.Oracle.GetTvl(r)
		require.Equal(t, apperr.ReasonLocked, apperr.ReasonOf(err))
	})

	reward := txOf(t, admin, KindNotifyReward, NotifyRewardPayload{
		Venue: curveGauge, Account: lpAccount, Token: crv, Amount: units(1_000, 18),
	}, 3)
	unknownVenue := txOf(t, admin, KindNotifyReward, NotifyRewardPayload{
		Venue: other, Account: lpAccount, Token: crv, Amount: units(1, 18),
	}, 4)
	claim := txOf(t, operator, KindClaim, ClaimPayload{Names: []string{"curve"}}, 5)

	_, receipts = c.block(t, reward, unknownVenue, claim)
	require.Equal(t, ReceiptConfirmed, receipts[0].Status(), receipts[0].ErrorMessage)
	require.Equal(t, "UNKNOWN_VENUE", receipts[1].Reason)
	require.Equal(t, ReceiptConfirmed, receipts[2].Status(), receipts[2].ErrorMessage)
	require.NotEmpty(t, receipts[2].Result)

	c.view(t, func(r db.Reader) {
		fee, err := tokens.BalanceOf(r, treasury, crv)
		require.NoError(t, err)
		require.Equal(t, units(150, 18), fee)

		kept, err := tokens.BalanceOf(r, lpAccount, crv)
		require.NoError(t, err)
		require.Equal(t, units(850, 18), kept)
	})
}

func TestOracleOperationsThroughTransactions(t *testing.T) {
	c := newTestChain(t)

	_, receipts := c.block(t,
		txOf(t, feeder, KindSubmitTvl, TvlPayload{Value: uint256.NewInt(2_000)}, 1),
		txOf(t, user, KindSubmitTvl, TvlPayload{Value: uint256.NewInt(1)}, 2),
		txOf(t, emergency, KindLock, PeriodPayload{Seconds: 60}, 3),
	)
	require.Equal(t, ReceiptConfirmed, receipts[0].Status())
	require.Equal(t, ReceiptFailed, receipts[1].Status())
	require.Equal(t, ReceiptConfirmed, receipts[2].Status(), receipts[2].ErrorMessage)

	c.view(t, func(r db.Reader) {
		_, err := c.app.Oracle.GetTvl(r)
		require.Equal(t, apperr.ReasonLocked, apperr.ReasonOf(err))
	})

	_, receipts = c.block(t,
		txOf(t, emergency, KindEmergencyUnlock, nil, 4),
		txOf(t, emergency, KindEmergencySetTvl, TvlPayload{Value: uint256.NewInt(7)}, 5),
	)
	require.Equal(t, ReceiptConfirmed, receipts[0].Status())
	require.Equal(t, ReceiptConfirmed, receipts[1].Status())

	c.view(t, func(r db.Reader) {
		tvl, err := c.app.Oracle.GetTvl(r)
		require.NoError(t, err)
		require.Equal(t, uint256.NewInt(7), tvl)
	})
}

func TestTxPoolLifecycle(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()

	pool := NewTxPool(c.store, 2, nil)
	seq := NewSequencer(c.store, pool, c.st, c.clock, time.Second, zerolog.Nop())

	block, err := seq.Produce(ctx)
	require.NoError(t, err)
	require.Nil(t, block)

	first := txOf(t, user, KindTransfer, TransferPayload{Token: dai, To: other, Amount: units(1, 18)}, 1)
	second := txOf(t, user, KindTransfer, TransferPayload{Token: dai, To: other, Amount: units(1, 18)}, 2)

	require.NoError(t, pool.AddTransaction(ctx, first))
	require.ErrorIs(t, pool.AddTransaction(ctx, first), ErrDuplicateTx)
	require.NoError(t, pool.AddTransaction(ctx, second))
	require.ErrorIs(t, pool.AddTransaction(ctx, txOf(t, user, KindTransfer, nil, 3)), ErrPoolFull)

	status, err := pool.GetTransactionStatus(ctx, first.Hash())
	require.NoError(t, err)
	require.Equal(t, TxPending, status)

	got, err := pool.GetTransaction(ctx, second.Hash())
	require.NoError(t, err)
	require.Equal(t, second, got)

	block, err = seq.Produce(ctx)
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)

	n, err := pool.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	status, err = pool.GetTransactionStatus(ctx, first.Hash())
	require.NoError(t, err)
	require.Equal(t, TxConfirmed, status)

	got, err = pool.GetTransaction(ctx, first.Hash())
	require.NoError(t, err)
	require.Equal(t, first.Hash(), got.Hash())

	require.ErrorIs(t, pool.AddTransaction(ctx, first), ErrDuplicateTx)

	_, err = pool.GetTransactionStatus(ctx, common.HexToHash("0x01"))
	require.ErrorIs(t, err, ErrTxNotFound)
}

func TestPoolKeepsOrderAcrossReopen(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()

	pool := NewTxPool(c.store, 0, nil)

	txs := make([]Transaction, 3)
	for i := range txs {
		txs[i] = txOf(t, user, KindTransfer, TransferPayload{Token: dai, To: other, Amount: units(1, 18)}, uint64(i+1))
		require.NoError(t, pool.AddTransaction(ctx, txs[i]))
	}

	// a fresh pool over the same store sees the same queue
	pool = NewTxPool(c.store, 0, nil)

	c.view(t, func(r db.Reader) {
		pending, err := pool.Pending(r, 2)
		require.NoError(t, err)
		require.Equal(t, txs[:2], pending)

		pending, err = pool.Pending(r, 0)
		require.NoError(t, err)
		require.Equal(t, txs, pending)
	})

	seq := NewSequencer(c.store, pool, c.st, c.clock, time.Second, zerolog.Nop())
	seq.maxTxs = 2

	block, err := seq.Produce(ctx)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{txs[0].Hash(), txs[1].Hash()}, block.Transactions)

	n, err := pool.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	status, err := pool.GetTransactionStatus(ctx, txs[2].Hash())
	require.NoError(t, err)
	require.Equal(t, TxPending, status)
}

func TestSequencerRunsUntilCancelled(t *testing.T) {
	c := newTestChain(t)

	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewTxPool(c.store, 0, nil)
	seq := NewSequencer(c.store, pool, c.st, c.clock, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- seq.Run(ctx) }()

	tx := txOf(t, user, KindTransfer, TransferPayload{Token: dai, To: other, Amount: units(1, 18)}, 1)
	require.NoError(t, pool.AddTransaction(ctx, tx))

	require.Eventually(t, func() bool {
		status, err := pool.GetTransactionStatus(ctx, tx.Hash())

		return err == nil && status == TxConfirmed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
