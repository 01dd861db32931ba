// Package fees computes the moving-average fee aggregation emitted once per
// indexing cycle (spec §4.6): for each operation kind present in the most
// recent window of operations, a (low, medium, high) band derived from the
// mean and population standard deviation of that kind's fees.
package fees

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"lorre/internal/chain"
)

// Aggregate reads the most recent window operations (ordered by block_level
// descending) that carry a non-null fee, groups them by kind, and returns
// one chain.FeeSummary per kind with mean/stddev bands. The low band is
// clamped to zero per the spec's explicit resolution of its open question;
// all three values are floored to integers.
func Aggregate(ctx context.Context, db *sql.DB, window int) ([]chain.FeeSummary, error) {
	if window <= 0 {
		window = 1000
	}

	rows, err := db.QueryContext(ctx, `
		SELECT kind, fee, cycle, block_level
		FROM (
			SELECT kind, fee, cycle, block_level
			FROM operations
			WHERE fee IS NOT NULL
			ORDER BY block_level DESC
			LIMIT $1
		) recent
	`, window)
	if err != nil {
		return nil, fmt.Errorf("fees: query recent operations: %w", err)
	}
	defer rows.Close()

	type acc struct {
		fees        []float64
		latestCycle int64
		latestLevel int64
	}
	byKind := map[chain.OperationKind]*acc{}

	for rows.Next() {
		var kind string
		var fee float64
		var cycle, level int64
		if err := rows.Scan(&kind, &fee, &cycle, &level); err != nil {
			return nil, fmt.Errorf("fees: scan row: %w", err)
		}
		k := chain.OperationKind(kind)
		a, ok := byKind[k]
		if !ok {
			a = &acc{}
			byKind[k] = a
		}
		a.fees = append(a.fees, fee)
		if level > a.latestLevel {
			a.latestLevel = level
			a.latestCycle = cycle
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fees: iterate rows: %w", err)
	}

	now := time.Now().UTC()
	out := make([]chain.FeeSummary, 0, len(byKind))
	for kind, a := range byKind {
		low, medium, high := bands(a.fees)
		out = append(out, chain.FeeSummary{
			Low:       low,
			Medium:    medium,
			High:      high,
			Timestamp: now,
			Kind:      kind,
			Cycle:     a.latestCycle,
			Level:     a.latestLevel,
		})
	}
	return out, nil
}

// bands computes floor(mean-stddev clamped to 0), floor(mean), floor(mean+stddev)
// over a population (not sample) standard deviation. For fees
// [10,20,30,40,50] that is medium=30, low=15 (30-√200≈15.86, floored) and
// high=44 (30+√200≈44.14, floored).
func bands(fees []float64) (low, medium, high int64) {
	if len(fees) == 0 {
		return 0, 0, 0
	}
	var sum float64
	for _, f := range fees {
		sum += f
	}
	mean := sum / float64(len(fees))

	var variance float64
	for _, f := range fees {
		d := f - mean
		variance += d * d
	}
	variance /= float64(len(fees))
	stddev := math.Sqrt(variance)

	lowF := mean - stddev
	if lowF < 0 {
		lowF = 0
	}
	return int64(math.Floor(lowF)), int64(math.Floor(mean)), int64(math.Floor(mean + stddev))
}

// Insert appends the aggregation rows computed by Aggregate. Fees rows are
// append-only; there is no conflict target.
func Insert(ctx context.Context, db *sql.DB, summaries []chain.FeeSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fees: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, s := range summaries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO fees (low, medium, high, timestamp, kind, cycle, level)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, s.Low, s.Medium, s.High, s.Timestamp, string(s.Kind), s.Cycle, s.Level); err != nil {
			return fmt.Errorf("fees: insert row: %w", err)
		}
	}
	return tx.Commit()
}
