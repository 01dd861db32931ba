// Package walker is the Block Walker (spec §4.4): it turns a chain head and
// a known stored top level into an ordered stream of fully-decoded
// chain.BlockData records, handling the reorg check that must run before
// any forward walking resumes.
package walker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"lorre/internal/chain"
	"lorre/internal/decode"
	"lorre/internal/fetch"
	"lorre/internal/rpc"
	"lorre/internal/store"
)

var log = logrus.WithField("component", "walker")

// FetchHead retrieves the current chain head block.
func FetchHead(ctx context.Context, client *rpc.Client) (chain.BlockRef, error) {
	results, err := client.BatchedGet(ctx, []string{"head"}, func(string) string { return "blocks/head" }, 1, false)
	if err != nil {
		return chain.BlockRef{}, fmt.Errorf("walker: fetch head: %w", err)
	}
	b, err := decode.DecodeBlock(results[0].Body)
	if err != nil {
		return chain.BlockRef{}, fmt.Errorf("walker: decode head: %w", err)
	}
	return chain.BlockRef{Hash: b.Hash, Level: b.Level}, nil
}

// Offsets returns the descending-offset stream covering the bottom-most
// unfetched window above knownTop: levels knownTop+1..knownTop+batchSize
// (capped at head.Level), translated to offsets via offset = head.Level -
// level. Anchoring at the bottom of the gap rather than at head is what
// makes repeated calls converge — the caller invokes Offsets again after
// advancing knownTop to the batch it just persisted, and each successive
// call picks up exactly where the last one left off, regardless of how
// large the total gap is relative to batchSize.
func Offsets(head chain.BlockRef, knownTop int64, batchSize int) []int64 {
	bottom := knownTop + 1
	top := head.Level
	if batchSize > 0 {
		if capped := knownTop + int64(batchSize); capped < top {
			top = capped
		}
	}
	n := top - bottom + 1
	if n <= 0 {
		return nil
	}
	offsets := make([]int64, n)
	for i := range offsets {
		level := bottom + int64(i)
		offsets[i] = head.Level - level
	}
	return offsets
}

// CheckReorg implements the reorg policy: read the stored block at
// head.Level; if absent or matching, there is nothing to roll back. If it
// differs, walk backward from head (by increasing offset) until a stored
// block's hash matches the freshly fetched one, and report that level so
// the caller can delete everything above it in one transaction before
// resuming forward.
func CheckReorg(ctx context.Context, db *sql.DB, client *rpc.Client, head chain.BlockRef) (matchLevel int64, reorgDetected bool, err error) {
	stored, err := store.StoredBlockAt(ctx, db, head.Level)
	if err != nil {
		return 0, false, fmt.Errorf("walker: read stored block at head level: %w", err)
	}
	if stored == nil || stored.Hash == head.Hash {
		return head.Level, false, nil
	}

	log.WithFields(logrus.Fields{"level": head.Level, "stored_hash": stored.Hash, "head_hash": head.Hash}).
		Warn("predecessor mismatch at head level, walking backward to find divergence point")

	for offset := int64(1); head.Level-offset >= 0; offset++ {
		level := head.Level - offset
		path := fmt.Sprintf("blocks/%s~%d", head.Hash, offset)
		results, err := client.BatchedGet(ctx, []string{path}, func(p string) string { return p }, 1, false)
		if err != nil {
			return 0, false, fmt.Errorf("walker: fetch ancestor at offset %d: %w", offset, err)
		}
		ancestor, err := decode.DecodeBlock(results[0].Body)
		if err != nil {
			return 0, false, fmt.Errorf("walker: decode ancestor at offset %d: %w", offset, err)
		}

		storedAtLevel, err := store.StoredBlockAt(ctx, db, level)
		if err != nil {
			return 0, false, fmt.Errorf("walker: read stored block at level %d: %w", level, err)
		}
		if storedAtLevel != nil && storedAtLevel.Hash == ancestor.Hash {
			log.WithField("matching_level", level).Info("reorg divergence point found")
			return level, true, nil
		}
	}
	return -1, true, nil
}

// Config bounds a single walker batch's fetch behaviour.
type Config struct {
	FetchConcurrency int
}

// WalkBatch fetches and decodes every offset against head, returning one
// BlockData per offset in the same order as offsets. A decode error on
// authoritative data (block, operation groups) fails the whole batch per
// spec §7.2; rights and votes are tolerant data and degrade to an empty
// slice with a warning instead.
func WalkBatch(ctx context.Context, client *rpc.Client, head chain.BlockRef, offsets []int64, cfg Config) ([]chain.BlockData, error) {
	if len(offsets) == 0 {
		return nil, nil
	}

	paths := make([]string, len(offsets))
	for i, o := range offsets {
		paths[i] = fmt.Sprintf("blocks/%s~%d", head.Hash, o)
	}

	blockFetcher := fetch.Fetcher[string, chain.Block]{
		Fetch: func(ctx context.Context, in []string) ([]fetch.Encoded[string], error) {
			return fetchAll(ctx, client, in, cfg.FetchConcurrency, false)
		},
		Decode: decode.DecodeBlock,
	}
	_, blocks, blockErrs, err := blockFetcher.Run(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("walker: fetch blocks: %w", err)
	}
	for _, e := range blockErrs {
		if e != nil {
			return nil, fmt.Errorf("walker: decode block (authoritative): %w", e)
		}
	}

	out := make([]chain.BlockData, len(blocks))
	for i, b := range blocks {
		opsPath := fmt.Sprintf("blocks/%s/operations", b.Hash)
		opsResults, err := client.BatchedGet(ctx, []string{opsPath}, func(p string) string { return p }, 1, false)
		if err != nil {
			return nil, fmt.Errorf("walker: fetch operations for %s: %w", b.Hash, err)
		}
		groups, ops, touchedAccounts, err := decode.DecodeOperationGroups(opsResults[0].Body, b.Hash, b.Level, b.Timestamp, b.MetaCycle)
		if err != nil {
			return nil, fmt.Errorf("walker: decode operations for %s: %w", b.Hash, err)
		}

		rights := fetchRights(ctx, client, b.Hash, b.Level)
		proposals, ballots, listings := fetchVotes(ctx, client, b.Hash, b.Level)
		touchedDelegates := extractDelegates(rights)

		out[i] = chain.BlockData{
			Block:             b,
			OperationGroups:   groups,
			Operations:        ops,
			Rights:            rights,
			Proposals:         proposals,
			Ballots:           ballots,
			Listings:          listings,
			TouchedAccountIDs: touchedAccounts,
			TouchedDelegates:  touchedDelegates,
		}
	}
	return out, nil
}

func fetchAll(ctx context.Context, client *rpc.Client, paths []string, concurrency int, tolerant bool) ([]fetch.Encoded[string], error) {
	results, err := client.BatchedGet(ctx, paths, func(p string) string { return p }, concurrency, tolerant)
	if err != nil {
		return nil, err
	}
	out := make([]fetch.Encoded[string], len(results))
	for i, r := range results {
		out[i] = fetch.Encoded[string]{Input: r.Input, Body: r.Body, Err: r.Err}
	}
	return out, nil
}

func fetchRights(ctx context.Context, client *rpc.Client, blockHash string, level int64) []chain.Right {
	var out []chain.Right
	for _, kind := range []chain.RightKind{chain.RightBaking, chain.RightEndorsing} {
		path := fmt.Sprintf("blocks/%s/helpers/%s_rights", blockHash, kind)
		results, err := client.BatchedGet(ctx, []string{path}, func(p string) string { return p }, 1, true)
		if err != nil {
			log.WithError(err).WithField("block", blockHash).Warn("rights fetch failed, treating as empty")
			continue
		}
		r := results[0]
		if r.Err != nil {
			log.WithError(r.Err).WithField("block", blockHash).Warn("rights fetch failed, treating as empty")
			continue
		}
		rights, err := decode.DecodeRights(r.Body, kind)
		if err != nil {
			log.WithError(err).WithField("block", blockHash).Warn("rights decode failed, treating as empty")
			continue
		}
		out = append(out, rights...)
	}
	return out
}

func fetchVotes(ctx context.Context, client *rpc.Client, blockHash string, blockLevel int64) ([]chain.Proposal, []chain.Ballot, []chain.Listing) {
	fetchOne := func(endpoint string) []byte {
		path := fmt.Sprintf("blocks/%s/votes/%s", blockHash, endpoint)
		results, err := client.BatchedGet(ctx, []string{path}, func(p string) string { return p }, 1, true)
		if err != nil || results[0].Err != nil {
			log.WithField("block", blockHash).WithField("endpoint", endpoint).Warn("votes fetch failed, treating as empty")
			return nil
		}
		return results[0].Body
	}

	proposals, err := decode.DecodeProposals(fetchOne("proposals"), blockHash, blockLevel)
	if err != nil {
		log.WithError(err).Warn("proposals decode failed, treating as empty")
		proposals = nil
	}
	ballots, err := decode.DecodeBallotList(fetchOne("ballot_list"), blockHash, blockLevel)
	if err != nil {
		log.WithError(err).Warn("ballot list decode failed, treating as empty")
		ballots = nil
	}
	listings, err := decode.DecodeListings(fetchOne("listings"), blockHash, blockLevel)
	if err != nil {
		log.WithError(err).Warn("listings decode failed, treating as empty")
		listings = nil
	}
	return proposals, ballots, listings
}

func extractDelegates(rights []chain.Right) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rights {
		if r.Delegate == "" || seen[r.Delegate] {
			continue
		}
		seen[r.Delegate] = true
		out = append(out, r.Delegate)
	}
	return out
}

// sortAscending orders a batch's BlockData by level, since the persister
// requires levels to be written contiguously from knownTop+1 upward even
// though the walker itself yields most-recent-first.
func sortAscending(data []chain.BlockData) {
	for i := 1; i < len(data); i++ {
		for j := i; j > 0 && data[j].Block.Level < data[j-1].Block.Level; j-- {
			data[j], data[j-1] = data[j-1], data[j]
		}
	}
}

// SortForPersist returns data ordered ascending by level, ready to be
// handed to the persistence layer one block at a time.
func SortForPersist(data []chain.BlockData) []chain.BlockData {
	out := make([]chain.BlockData, len(data))
	copy(out, data)
	sortAscending(out)
	return out
}
