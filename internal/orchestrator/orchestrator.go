// Package orchestrator runs the Lorre loop (spec §4.8): fetch head, compare
// against the stored max level, check for a reorg, walk and persist any new
// blocks, drain the account/delegate checkpoints, aggregate fees, then
// sleep. A FETCH_HEAD failure sleeps with exponential backoff instead of
// the idle interval; every other step failing aborts the current cycle and
// falls back to backoff as well, since a half-finished cycle leaves no
// guarantee the node or database is healthy. The one exception is an
// unrecognized operation kind, which halts the loop with an error.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lorre/internal/checkpoint"
	"lorre/internal/config"
	"lorre/internal/decode"
	"lorre/internal/fees"
	"lorre/internal/rpc"
	"lorre/internal/store"
	"lorre/internal/walker"
)

var log = logrus.WithField("component", "orchestrator")

// Loop owns one indexer's run loop against one node and one database.
type Loop struct {
	cfg    config.Config
	client *rpc.Client
	db     *sql.DB

	backoff time.Duration
}

// New builds a Loop ready to Run.
func New(cfg config.Config, client *rpc.Client, db *sql.DB) *Loop {
	return &Loop{cfg: cfg, client: client, db: db, backoff: time.Second}
}

// Run drives cycles until ctx is cancelled, returning nil on shutdown, or
// until a cycle meets an unrecognized operation kind, returning that error.
// Cancellation is checked between cycles and between walker batches; ctx is
// also passed to every RPC and database call, and a block transaction
// interrupted by cancellation is rolled back, never partially committed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			log.Info("shutdown requested, exiting cleanly")
			return nil
		}

		sleep, err := l.runCycle(ctx)
		if err != nil && errors.Is(err, decode.ErrUnknownOperationKind) {
			log.WithError(err).Error("unknown operation kind, halting")
			return err
		}
		if err != nil {
			log.WithError(err).Warn("cycle failed, backing off")
			sleep = l.nextBackoff()
		} else {
			l.backoff = time.Second
		}

		select {
		case <-ctx.Done():
			log.Info("shutdown requested during sleep, exiting cleanly")
			return nil
		case <-time.After(sleep):
		}
	}
}

// runCycle executes one FETCH_HEAD -> COMPARE -> [REORG_CHECK -> WALK ->
// DRAIN_ACCOUNTS -> FEES] pass and returns how long to sleep before the
// next one.
func (l *Loop) runCycle(ctx context.Context) (time.Duration, error) {
	cycleID := uuid.NewString()
	log := log.WithField("cycle_id", cycleID)

	head, err := walker.FetchHead(ctx, l.client)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: fetch head: %w", err)
	}

	knownTop, err := store.MaxStoredLevel(ctx, l.db)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: read max stored level: %w", err)
	}

	if head.Level == knownTop {
		return l.cfg.IdleInterval, nil
	}

	matchLevel, reorgDetected, err := walker.CheckReorg(ctx, l.db, l.client, head)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: reorg check: %w", err)
	}
	if reorgDetected {
		log.WithField("matching_level", matchLevel).Warn("reorg confirmed, rolling back stored state")
		if err := store.DeleteAboveLevel(ctx, l.db, matchLevel); err != nil {
			return 0, fmt.Errorf("orchestrator: reorg rollback: %w", err)
		}
		knownTop = matchLevel
	}

	for {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		offsets := walker.Offsets(head, knownTop, l.cfg.BatchSize)
		if len(offsets) == 0 {
			break
		}

		batch, err := walker.WalkBatch(ctx, l.client, head, offsets, walker.Config{FetchConcurrency: l.cfg.FetchConcurrency})
		if err != nil {
			return 0, fmt.Errorf("orchestrator: walk batch: %w", err)
		}

		ordered := walker.SortForPersist(batch)
		for _, data := range ordered {
			if err := store.PersistBlock(ctx, l.db, data); err != nil {
				return 0, fmt.Errorf("orchestrator: persist block %d: %w", data.Block.Level, err)
			}
			knownTop = data.Block.Level
		}

		if err := checkpoint.DrainAccounts(ctx, l.db, l.client, l.cfg.AccountsFetchConcurrency); err != nil {
			return 0, fmt.Errorf("orchestrator: drain accounts: %w", err)
		}
		if err := checkpoint.DrainDelegates(ctx, l.db, l.client, l.cfg.AccountsFetchConcurrency); err != nil {
			return 0, fmt.Errorf("orchestrator: drain delegates: %w", err)
		}
	}

	summaries, err := fees.Aggregate(ctx, l.db, l.cfg.FeeWindow)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: aggregate fees: %w", err)
	}
	if err := fees.Insert(ctx, l.db, summaries); err != nil {
		return 0, fmt.Errorf("orchestrator: insert fee summaries: %w", err)
	}

	return l.cfg.IdleInterval, nil
}

func (l *Loop) nextBackoff() time.Duration {
	next := l.backoff * 2
	if next > l.cfg.MaxBackoff {
		next = l.cfg.MaxBackoff
	}
	l.backoff = next
	return next
}
