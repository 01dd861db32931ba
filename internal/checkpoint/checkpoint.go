// Package checkpoint implements the two-phase account/delegate drain (spec
// §4.5): a block's operations enqueue the account ids and delegate pkhs
// they touch, because an account's up-to-date state is not present in the
// block JSON. Periodically the queue is drained: each distinct id is
// re-fetched against the block hash of its most recent touch, upserted,
// and the queue rows are pruned once the upsert lands at or above the
// block_level they were queued at.
package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"lorre/internal/chain"
	"lorre/internal/decode"
	"lorre/internal/rpc"
)

var log = logrus.WithField("component", "checkpoint")

type pending struct {
	id         string
	blockHash  string
	blockLevel int64
}

// DrainAccounts selects every distinct account_id from the checkpoint queue
// at its maximum queued block_level, re-fetches and upserts each one, and
// removes the rows that were successfully resolved. A failed individual
// fetch (account missing on-chain, transport error) is swallowed and the
// row is left for the next drain, per spec §4.5.
func DrainAccounts(ctx context.Context, db *sql.DB, client *rpc.Client, concurrency int) error {
	items, err := selectPending(ctx, db, "accounts_checkpoint", "account_id")
	if err != nil {
		return fmt.Errorf("checkpoint: select pending accounts: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	fetched := fetchConcurrently(ctx, client, concurrency, items,
		func(item pending) string { return fmt.Sprintf("blocks/%s/context/contracts/%s", item.blockHash, item.id) })

	resolved := make([]pending, 0, len(items))
	for _, f := range fetched {
		if f.err != nil {
			log.WithError(f.err).WithField("account_id", f.item.id).Warn("account fetch failed, retrying next cycle")
			continue
		}
		acc, err := decode.DecodeAccount(f.body, f.item.id, f.item.blockHash, f.item.blockLevel)
		if err != nil {
			log.WithError(err).WithField("account_id", f.item.id).Warn("account decode failed, retrying next cycle")
			continue
		}
		if err := upsertAccount(ctx, db, acc); err != nil {
			return fmt.Errorf("checkpoint: upsert account %s: %w", f.item.id, err)
		}
		resolved = append(resolved, f.item)
	}
	return pruneResolved(ctx, db, "accounts_checkpoint", "account_id", resolved)
}

// DrainDelegates is DrainAccounts' analogue keyed by public key hash.
func DrainDelegates(ctx context.Context, db *sql.DB, client *rpc.Client, concurrency int) error {
	items, err := selectPending(ctx, db, "delegates_checkpoint", "pkh")
	if err != nil {
		return fmt.Errorf("checkpoint: select pending delegates: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	fetched := fetchConcurrently(ctx, client, concurrency, items,
		func(item pending) string { return fmt.Sprintf("blocks/%s/context/delegates/%s", item.blockHash, item.id) })

	resolved := make([]pending, 0, len(items))
	for _, f := range fetched {
		if f.err != nil {
			log.WithError(f.err).WithField("pkh", f.item.id).Warn("delegate fetch failed, retrying next cycle")
			continue
		}
		del, err := decode.DecodeDelegate(f.body, f.item.id, f.item.blockHash, f.item.blockLevel)
		if err != nil {
			log.WithError(err).WithField("pkh", f.item.id).Warn("delegate decode failed, retrying next cycle")
			continue
		}
		if err := upsertDelegate(ctx, db, del); err != nil {
			return fmt.Errorf("checkpoint: upsert delegate %s: %w", f.item.id, err)
		}
		resolved = append(resolved, f.item)
	}
	return pruneResolved(ctx, db, "delegates_checkpoint", "pkh", resolved)
}

// fetchedBody pairs a checkpoint item with the body fetched for it (or the
// error that occurred doing so).
type fetchedBody struct {
	item pending
	body []byte
	err  error
}

// fetchConcurrently issues one GET per item, bounded to concurrency
// in-flight requests via a semaphore — the same bounding primitive
// internal/rpc uses for its own batch fan-out. Unlike internal/rpc's
// BatchedGet, a single item's failure here never aborts the others: every
// checkpoint fetch is tolerant data by definition (spec §4.5).
func fetchConcurrently(ctx context.Context, client *rpc.Client, concurrency int, items []pending, pathFor func(pending) string) []fetchedBody {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	out := make([]fetchedBody, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = fetchedBody{item: item, err: err}
			continue
		}
		wg.Add(1)
		go func(idx int, it pending) {
			defer wg.Done()
			defer sem.Release(1)
			path := pathFor(it)
			results, err := client.BatchedGet(ctx, []string{path}, func(p string) string { return p }, 1, true)
			if err != nil {
				out[idx] = fetchedBody{item: it, err: err}
				return
			}
			out[idx] = fetchedBody{item: it, body: results[0].Body, err: results[0].Err}
		}(i, item)
	}
	wg.Wait()
	return out
}

func selectPending(ctx context.Context, db *sql.DB, table, idCol string) ([]pending, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, block_id, MAX(block_level) AS max_level
		FROM %s
		GROUP BY %s, block_id
	`, idCol, table, idCol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := map[string]pending{}
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.blockHash, &p.blockLevel); err != nil {
			return nil, err
		}
		if existing, ok := byID[p.id]; !ok || p.blockLevel > existing.blockLevel {
			byID[p.id] = p
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]pending, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	return out, nil
}

func pruneResolved(ctx context.Context, db *sql.DB, table, idCol string, resolved []pending) error {
	if len(resolved) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin prune tx: %w", err)
	}
	defer tx.Rollback()

	for _, p := range resolved {
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND block_level <= $2", table, idCol)
		if _, err := tx.ExecContext(ctx, stmt, p.id, p.blockLevel); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// upsertAccount writes the latest-known state for one account. Account rows
// are logically versioned by block_level (spec §3.6): an upsert only wins
// the conflict when its block_level is at least as recent as what is
// already stored, so a delayed/retried drain can never regress a row that
// a later cycle already advanced.
func upsertAccount(ctx context.Context, db *sql.DB, acc chain.Account) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO accounts (account_id, block_id, block_level, manager, balance, spendable,
			delegate_setable, delegate_value, counter, script, storage)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (account_id) DO UPDATE SET
			block_id = EXCLUDED.block_id,
			block_level = EXCLUDED.block_level,
			manager = EXCLUDED.manager,
			balance = EXCLUDED.balance,
			spendable = EXCLUDED.spendable,
			delegate_setable = EXCLUDED.delegate_setable,
			delegate_value = EXCLUDED.delegate_value,
			counter = EXCLUDED.counter,
			script = EXCLUDED.script,
			storage = EXCLUDED.storage
		WHERE EXCLUDED.block_level >= accounts.block_level
	`, acc.AccountID, acc.BlockID, acc.BlockLevel, acc.Manager, acc.Balance, acc.Spendable,
		acc.DelegateSetable, acc.DelegateValue, acc.Counter, acc.Script, acc.Storage)
	return err
}

// upsertDelegate is upsertAccount's analogue for Delegate rows.
func upsertDelegate(ctx context.Context, db *sql.DB, del chain.Delegate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO delegates (pkh, block_id, block_level, balance, frozen_balance,
			staking_balance, delegated_balance, deactivated, grace_period)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (pkh) DO UPDATE SET
			block_id = EXCLUDED.block_id,
			block_level = EXCLUDED.block_level,
			balance = EXCLUDED.balance,
			frozen_balance = EXCLUDED.frozen_balance,
			staking_balance = EXCLUDED.staking_balance,
			delegated_balance = EXCLUDED.delegated_balance,
			deactivated = EXCLUDED.deactivated,
			grace_period = EXCLUDED.grace_period
		WHERE EXCLUDED.block_level >= delegates.block_level
	`, del.PKH, del.BlockID, del.BlockLevel, del.Balance, del.FrozenBalance,
		del.StakingBalance, del.DelegatedBalance, del.Deactivated, del.GracePeriod)
	return err
}
