package application

import (
	"context"
	"time"

	"github.com/ledgerwatch/erigon-lib/kv"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/oracle"
)

// DefaultMaxBlockTxs bounds how many transactions go into one block.
const DefaultMaxBlockTxs = 1_000

// Sequencer drains the pool on a fixed interval and seals what it finds into a
// block. It is the only writer of protocol state.
type Sequencer struct {
	store    kv.RwDB
	pool     *TxPool
	st       *StateTransition
	clock    oracle.Clock
	interval time.Duration
	maxTxs   int
	log      zerolog.Logger
}

func NewSequencer(
	store kv.RwDB,
	pool *TxPool,
	st *StateTransition,
	clock oracle.Clock,
	interval time.Duration,
	log zerolog.Logger,
) *Sequencer {
	if clock == nil {
		clock = oracle.SystemClock{}
	}

	if interval <= 0 {
		interval = DefaultBlockInterval
	}

	return &Sequencer{
		store:    store,
		pool:     pool,
		st:       st,
		clock:    clock,
		interval: interval,
		maxTxs:   DefaultMaxBlockTxs,
		log:      log.With().Str("component", "sequencer").Logger(),
	}
}

// Run produces blocks until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("sequencer started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sequencer stopped")

			return nil
		case <-ticker.C:
			if _, err := s.Produce(ctx); err != nil {
				s.log.Error().Err(err).Msg("block production failed")
			}
		}
	}
}

// Produce seals the pending transactions into one block. It returns nil without
// writing anything when the pool is empty. The sealed transactions leave the
// pool in the same write transaction, so a failed commit leaves them queued.
func (s *Sequencer) Produce(ctx context.Context) (*Block, error) {
	var (
		block     *Block
		remaining int
	)

	err := s.store.Update(ctx, func(tx kv.RwTx) error {
		txs, err := s.pool.Pending(tx, s.maxTxs)
		if err != nil || len(txs) == 0 {
			return err
		}

		block, err = s.st.ProcessBlock(tx, s.clock.Now().Unix(), txs)
		if err != nil {
			return err
		}

		remaining, err = s.pool.Remove(tx, txs)

		return err
	})
	if err != nil {
		return nil, err
	}

	if block != nil {
		s.pool.metrics.setPending(remaining)
	}

	return block, nil
}
