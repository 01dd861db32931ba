// Package store is the persistence layer: transactional per-block upsert of
// blocks, operation groups, operations, rights, votes and checkpoint rows,
// plus the reorg rollback. The account/delegate drain writes live in
// internal/checkpoint. Block, group, operation, rights and vote inserts are
// idempotent on their keys (ON CONFLICT ... DO NOTHING); checkpoint rows are
// plain inserts, so a replayed block queues its ids again, which the drain
// tolerates because it reads the maximum block_level per id.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"lorre/internal/chain"
)

// Open opens a connection pool against a Postgres DSN.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return db, nil
}

// PersistBlock writes one level's worth of chain data in a single
// transaction, in FK-closure order: Block, OperationGroups, Operations,
// Rights, Votes subtables, AccountsCheckpoint. It is the sole writer of the
// "blocks onward" tables; Accounts and Delegates are written separately by
// the checkpoint drain (see DrainAccounts/DrainDelegates).
func PersistBlock(ctx context.Context, db *sql.DB, data chain.BlockData) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin block tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertBlock(ctx, tx, data.Block); err != nil {
		return fmt.Errorf("store: insert block: %w", err)
	}
	if err := insertOperationGroups(ctx, tx, data.OperationGroups); err != nil {
		return fmt.Errorf("store: insert operation groups: %w", err)
	}
	if err := insertOperations(ctx, tx, data.Operations); err != nil {
		return fmt.Errorf("store: insert operations: %w", err)
	}
	if err := insertRights(ctx, tx, data.Rights); err != nil {
		return fmt.Errorf("store: insert rights: %w", err)
	}
	if err := insertVotes(ctx, tx, data); err != nil {
		return fmt.Errorf("store: insert votes: %w", err)
	}
	if err := enqueueCheckpoints(ctx, tx, data); err != nil {
		return fmt.Errorf("store: enqueue checkpoints: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit block tx: %w", err)
	}
	return nil
}

func insertBlock(ctx context.Context, tx *sql.Tx, b chain.Block) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (
			level, hash, predecessor, timestamp, proto, fitness, context,
			signature, protocol, chain_id, operations_hash, period_kind,
			current_expected_quorum, active_proposal, baker, consumed_gas,
			priority, meta_level, meta_level_position, meta_cycle,
			meta_cycle_position, meta_voting_period, meta_voting_period_position
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (hash) DO NOTHING
	`,
		b.Level, b.Hash, b.Predecessor, b.Timestamp, b.Proto, fitnessToText(b.Fitness), b.Context,
		b.Signature, b.Protocol, b.ChainID, b.OperationsHash, b.PeriodKind,
		b.CurrentExpectedQuorum, b.ActiveProposal, b.Baker, b.ConsumedGas,
		b.Priority, b.MetaLevel, b.MetaLevelPosition, b.MetaCycle,
		b.MetaCyclePosition, b.MetaVotingPeriod, b.MetaVotingPeriodPosition,
	)
	return err
}

func insertOperationGroups(ctx context.Context, tx *sql.Tx, groups []chain.OperationGroup) error {
	for _, g := range groups {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operation_groups (hash, branch, signature, protocol, chain_id, block_id, block_level)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (hash) DO NOTHING
		`, g.Hash, g.Branch, g.Signature, g.Protocol, g.ChainID, g.BlockID, g.BlockLevel)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertOperations(ctx context.Context, tx *sql.Tx, ops []chain.Operation) error {
	for _, o := range ops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operations (
				operation_id, operation_group_hash, kind, block_hash, block_level,
				timestamp, cycle, internal, source, destination, amount, fee,
				gas_limit, storage_limit, parameters, script, storage, status,
				ballot, proposal
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
			ON CONFLICT (operation_id) DO NOTHING
		`,
			o.OperationID, o.OperationGroupHash, string(o.Kind), o.BlockHash, o.BlockLevel,
			o.Timestamp, o.Cycle, o.Internal, o.Source, o.Destination, o.Amount, o.Fee,
			o.GasLimit, o.StorageLimit, o.Parameters, o.Script, o.Storage, o.Status,
			o.Ballot, o.Proposal,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertRights(ctx context.Context, tx *sql.Tx, rights []chain.Right) error {
	for _, r := range rights {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rights (block_level, kind, delegate, priority_or_slot, estimated_time)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (block_level, kind, delegate) DO NOTHING
		`, r.BlockLevel, string(r.Kind), r.Delegate, r.PriorityOrSlot, r.EstimatedTime)
		if err != nil {
			return err
		}
	}
	return nil
}

// insertVotes writes the vote_proposals/vote_ballots/vote_listings rows for
// one block. Every row carries block_level so DeleteAboveLevel's generic
// per-table loop can prune an orphaned branch's vote rows on reorg the same
// way it prunes rights and operations — no table gets a special case.
func insertVotes(ctx context.Context, tx *sql.Tx, data chain.BlockData) error {
	for _, p := range data.Proposals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vote_proposals (block_hash, block_level, proposal_hash, supporter_count)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (block_hash, proposal_hash) DO NOTHING
		`, p.BlockHash, p.BlockLevel, p.ProposalHash, p.SupporterCount); err != nil {
			return err
		}
	}
	for _, b := range data.Ballots {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vote_ballots (block_hash, block_level, pkh, ballot, proposal)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (block_hash, pkh) DO NOTHING
		`, b.BlockHash, b.BlockLevel, b.PKH, b.Ballot, b.Proposal); err != nil {
			return err
		}
	}
	for _, l := range data.Listings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vote_listings (block_hash, block_level, pkh, rolls)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (block_hash, pkh) DO NOTHING
		`, l.BlockHash, l.BlockLevel, l.PKH, l.Rolls); err != nil {
			return err
		}
	}
	return nil
}

func enqueueCheckpoints(ctx context.Context, tx *sql.Tx, data chain.BlockData) error {
	for _, id := range data.TouchedAccountIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts_checkpoint (account_id, block_id, block_level)
			VALUES ($1,$2,$3)
		`, id, data.Block.Hash, data.Block.Level); err != nil {
			return err
		}
	}
	for _, pkh := range data.TouchedDelegates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delegates_checkpoint (pkh, block_id, block_level)
			VALUES ($1,$2,$3)
		`, pkh, data.Block.Hash, data.Block.Level); err != nil {
			return err
		}
	}
	return nil
}

// StoredBlockAt returns the block stored at level, or nil if none is
// present. Used by the walker's reorg check.
func StoredBlockAt(ctx context.Context, db *sql.DB, level int64) (*chain.Block, error) {
	row := db.QueryRowContext(ctx, `SELECT hash, predecessor FROM blocks WHERE level = $1`, level)
	var hash, predecessor string
	if err := row.Scan(&hash, &predecessor); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &chain.Block{Level: level, Hash: hash, Predecessor: predecessor}, nil
}

// MaxStoredLevel returns the highest stored block level, or -1 if the store
// is empty.
func MaxStoredLevel(ctx context.Context, db *sql.DB) (int64, error) {
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(level), -1) FROM blocks`)
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

// deleteAboveLevelTables lists every table carrying a block_level column,
// in the reverse of their FK-dependency order, so the reorg rollback can
// delete safely without violating referential integrity.
var deleteAboveLevelTables = []string{
	"accounts_checkpoint",
	"delegates_checkpoint",
	"vote_listings",
	"vote_ballots",
	"vote_proposals",
	"rights",
	"operations",
	"operation_groups",
	"accounts",
	"delegates",
	"blocks",
}

// DeleteAboveLevel removes every stored row with block_level > level across
// all tables, inside one transaction, as the first step of the reorg
// protocol (spec §4.4). Column names differ per table (block_level vs
// level for blocks itself) — handled per entry.
func DeleteAboveLevel(ctx context.Context, db *sql.DB, level int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin reorg tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range deleteAboveLevelTables {
		col := "block_level"
		if table == "blocks" {
			col = "level"
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s > $1", table, col)
		if _, err := tx.ExecContext(ctx, stmt, level); err != nil {
			return fmt.Errorf("store: delete from %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit reorg tx: %w", err)
	}
	return nil
}

func fitnessToText(fitness []string) string {
	out := ""
	for i, f := range fitness {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
