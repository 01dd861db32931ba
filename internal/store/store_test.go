package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"lorre/internal/chain"
)

func sampleBlockData() chain.BlockData {
	amount := int64(100)
	fee := int64(5)
	return chain.BlockData{
		Block: chain.Block{Level: 42, Hash: "BL1", Predecessor: "BL0", Timestamp: time.Now()},
		OperationGroups: []chain.OperationGroup{
			{Hash: "oo1", Branch: "BL0", BlockID: "BL1", BlockLevel: 42},
		},
		Operations: []chain.Operation{
			{OperationID: "oo1:0", OperationGroupHash: "oo1", Kind: chain.KindTransaction, BlockHash: "BL1", BlockLevel: 42, Amount: &amount, Fee: &fee},
		},
		Rights: []chain.Right{
			{BlockLevel: 42, Kind: chain.RightBaking, Delegate: "tz1baker"},
		},
		Proposals: []chain.Proposal{{BlockHash: "BL1", BlockLevel: 42, ProposalHash: "Pabc"}},
		Ballots:   []chain.Ballot{{BlockHash: "BL1", BlockLevel: 42, PKH: "tz1a", Ballot: "yay"}},
		Listings:  []chain.Listing{{BlockHash: "BL1", BlockLevel: 42, PKH: "tz1a", Rolls: 3}},

		TouchedAccountIDs: []string{"tz1a", "tz1b"},
		TouchedDelegates:  []string{"tz1baker"},
	}
}

func tableOf(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	const marker = "INSERT INTO "
	i := strings.Index(stmt, marker)
	if i < 0 {
		return stmt
	}
	rest := strings.TrimSpace(stmt[i+len(marker):])
	end := strings.IndexAny(rest, " (")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

func TestPersistBlockWritesTablesInDependencyOrder(t *testing.T) {
	db, drv := openFakeDB()
	defer db.Close()

	if err := PersistBlock(context.Background(), db, sampleBlockData()); err != nil {
		t.Fatalf("PersistBlock: %v", err)
	}

	want := []string{
		"blocks",
		"operation_groups",
		"operations",
		"rights",
		"vote_proposals",
		"vote_ballots",
		"vote_listings",
		"accounts_checkpoint",
		"accounts_checkpoint",
		"delegates_checkpoint",
	}
	if len(drv.log) != len(want) {
		t.Fatalf("expected %d statements, got %d: %v", len(want), len(drv.log), drv.log)
	}
	for i, stmt := range drv.log {
		if got := tableOf(stmt); got != want[i] {
			t.Fatalf("statement %d: expected table %q, got %q (stmt: %s)", i, want[i], got, stmt)
		}
	}
}

func TestDeleteAboveLevelCoversEveryBlockLevelTable(t *testing.T) {
	db, drv := openFakeDB()
	defer db.Close()

	if err := DeleteAboveLevel(context.Background(), db, 100); err != nil {
		t.Fatalf("DeleteAboveLevel: %v", err)
	}
	if len(drv.log) != len(deleteAboveLevelTables) {
		t.Fatalf("expected %d delete statements, got %d", len(deleteAboveLevelTables), len(drv.log))
	}
	for i, table := range deleteAboveLevelTables {
		if !strings.Contains(drv.log[i], "DELETE FROM "+table+" ") {
			t.Fatalf("statement %d does not target %q: %s", i, table, drv.log[i])
		}
	}
}

func TestFitnessToText(t *testing.T) {
	if got := fitnessToText(nil); got != "" {
		t.Fatalf("expected empty string for nil fitness, got %q", got)
	}
	if got := fitnessToText([]string{"00", "2a"}); got != "00,2a" {
		t.Fatalf("unexpected joined fitness: %q", got)
	}
}
