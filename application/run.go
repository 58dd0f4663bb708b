package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerwatch/erigon-lib/kv"
	"github.com/ledgerwatch/erigon-lib/kv/mdbx"
	mdbxlog "github.com/ledgerwatch/log/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/keeper"
	"github.com/0xAtelerix/yieldchain/application/oracle"
)

type RuntimeArgs struct {
	DBPath       string
	PoolCapacity int
	// Genesis is applied when the database is empty.
	Genesis *Genesis
	Clock   oracle.Clock
}

// Node is one running chain: the store, the protocol components, the pool and the
// background workers that write to the store.
type Node struct {
	DB        kv.RwDB
	App       *Appchain
	Pool      *TxPool
	Sequencer *Sequencer
	Keeper    *keeper.Keeper
	Metrics   *Metrics
	Registry  *prometheus.Registry

	log zerolog.Logger
}

// OpenNode opens the database at args.DBPath, applies the genesis if the database
// is new and wires the workers. Nothing runs until Run is called.
func OpenNode(ctx context.Context, cfg Config, args RuntimeArgs, log zerolog.Logger) (*Node, error) {
	app, err := New(cfg, args.Clock, log)
	if err != nil {
		return nil, err
	}

	store, err := mdbx.NewMDBX(mdbxlog.New()).
		Path(args.DBPath).
		WithTableCfg(func(_ kv.TableCfg) kv.TableCfg {
			return db.Tables()
		}).
		Open()
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	if args.Genesis != nil {
		err = InitializeGenesis(ctx, store, app, *args.Genesis)
		if err != nil && !errors.Is(err, ErrGenesisApplied) {
			store.Close()

			return nil, fmt.Errorf("genesis: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(reg)
	snapshots := Snapshots{DB: store}
	pool := NewTxPool(store, args.PoolCapacity, metrics)

	pending, err := pool.Len(ctx)
	if err != nil {
		store.Close()

		return nil, err
	}

	metrics.setPending(pending)
	st := NewStateTransition(app, metrics, log)

	n := &Node{
		DB:        store,
		App:       app,
		Pool:      pool,
		Sequencer: NewSequencer(store, pool, st, args.Clock, app.cfg.BlockInterval, log),
		Metrics:   metrics,
		Registry:  reg,
		log:       log.With().Str("component", "node").Logger(),
	}

	if cfg.Feeder != (common.Address{}) {
		//nolint:gosec // nanoseconds since epoch are positive
		feeder := NewFeeder(cfg.Feeder, pool, metrics, uint64(time.Now().UnixNano()))
		n.Keeper = keeper.New(cfg.Keeper, snapshots, app.Registry, app.Oracle, feeder, log)
	}

	return n, nil
}

// Run drives the sequencer and the keeper until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if n.Keeper != nil {
		if err := n.Keeper.Start(ctx); err != nil {
			return err
		}

		g.Go(func() error {
			<-ctx.Done()

			return n.Keeper.Stop()
		})
	}

	g.Go(func() error {
		return n.Sequencer.Run(ctx)
	})

	n.log.Info().Msg("node running")

	return g.Wait()
}

func (n *Node) Close() {
	n.log.Info().Msg("closing state db")
	n.DB.Close()
}

func (n *Node) View(ctx context.Context, fn func(r db.Reader) error) error {
	return Snapshots{DB: n.DB}.View(ctx, fn)
}

func (n *Node) AddTransaction(ctx context.Context, tx Transaction) error {
	return n.Pool.AddTransaction(ctx, tx)
}

func (n *Node) GetTransaction(ctx context.Context, hash common.Hash) (Transaction, error) {
	return n.Pool.GetTransaction(ctx, hash)
}

func (n *Node) GetTransactionStatus(ctx context.Context, hash common.Hash) (TxStatus, error) {
	return n.Pool.GetTransactionStatus(ctx, hash)
}

func (n *Node) Appchain() *Appchain {
	return n.App
}
