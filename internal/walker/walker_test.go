package walker

import (
	"testing"

	"lorre/internal/chain"
)

// levelsFor translates an offset list back to the levels it addresses
// (level = head.Level - offset), the same arithmetic the walker itself
// uses when building blocks/{hash}~{offset} paths.
func levelsFor(head chain.BlockRef, offsets []int64) []int64 {
	levels := make([]int64, len(offsets))
	for i, o := range offsets {
		levels[i] = head.Level - o
	}
	return levels
}

func TestOffsetsCoversFullGap(t *testing.T) {
	head := chain.BlockRef{Hash: "BLhead", Level: 5}
	offsets := Offsets(head, -1, 0)
	if len(offsets) != 6 {
		t.Fatalf("expected 6 offsets (levels 0 through 5), got %d: %v", len(offsets), offsets)
	}
	levels := levelsFor(head, offsets)
	for i, l := range levels {
		if l != int64(i) {
			t.Fatalf("expected levels 0..5 in order, got %v", levels)
		}
	}
}

func TestOffsetsNoGapIsEmpty(t *testing.T) {
	head := chain.BlockRef{Hash: "BLhead", Level: 5}
	if offsets := Offsets(head, 5, 100); offsets != nil {
		t.Fatalf("expected no offsets when head equals known top, got %v", offsets)
	}
}

// TestOffsetsRespectsBatchSize locks in the bottom-of-gap anchoring: a
// capped batch must cover the levels immediately above knownTop, not the
// levels closest to head, or a gap wider than batchSize can never be
// backfilled (the orchestrator advances knownTop to the top of whatever it
// just persisted, permanently skipping anything left behind it).
func TestOffsetsRespectsBatchSize(t *testing.T) {
	head := chain.BlockRef{Hash: "BLhead", Level: 100}
	offsets := Offsets(head, 0, 10)
	if len(offsets) != 10 {
		t.Fatalf("expected batch capped to 10 offsets, got %d", len(offsets))
	}
	levels := levelsFor(head, offsets)
	for _, l := range levels {
		if l < 1 || l > 10 {
			t.Fatalf("offset translated to level %d outside knownTop+1..knownTop+batchSize window: %v", l, levels)
		}
	}
}

// TestOffsetsBackfillsBottomOfGapFirst is the maintainer-reported
// regression: a gap wider than batchSize must be backfilled starting at
// knownTop+1, not at the top of the gap closest to head.
func TestOffsetsBackfillsBottomOfGapFirst(t *testing.T) {
	head := chain.BlockRef{Hash: "BLhead", Level: 1000}
	offsets := Offsets(head, 0, 500)
	if len(offsets) != 500 {
		t.Fatalf("expected 500 offsets, got %d", len(offsets))
	}
	levels := levelsFor(head, offsets)
	for _, l := range levels {
		if l < 1 || l > 500 {
			t.Fatalf("expected levels 1..500 (bottom of the gap), got level %d in %v", l, levels)
		}
	}

	// After persisting this batch the orchestrator advances knownTop to
	// 500; the next call must pick up exactly where this one left off.
	next := Offsets(head, 500, 500)
	if len(next) != 500 {
		t.Fatalf("expected 500 offsets for the remaining gap, got %d", len(next))
	}
	nextLevels := levelsFor(head, next)
	for _, l := range nextLevels {
		if l < 501 || l > 1000 {
			t.Fatalf("expected levels 501..1000, got level %d in %v", l, nextLevels)
		}
	}
}

func TestSortForPersistOrdersAscendingByLevel(t *testing.T) {
	in := []chain.BlockData{
		{Block: chain.Block{Level: 10}},
		{Block: chain.Block{Level: 8}},
		{Block: chain.Block{Level: 9}},
	}
	out := SortForPersist(in)
	if out[0].Block.Level != 8 || out[1].Block.Level != 9 || out[2].Block.Level != 10 {
		t.Fatalf("expected ascending order, got %+v", out)
	}
	if in[0].Block.Level != 10 {
		t.Fatal("SortForPersist must not mutate its input")
	}
}
