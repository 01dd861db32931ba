// Package decode holds pure functions that turn raw node JSON bodies into
// chain records. Each decoder tolerates the absence of optional fields
// (tezos represents integers as strings on the wire, and many operation
// fields are only present for certain kinds) and treats an empty body on a
// rights/votes endpoint as an empty list rather than an error, per the
// node's historical behaviour on some protocol versions.
package decode

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"lorre/internal/chain"
)

// DecodeError wraps a JSON shape that could not be interpreted. Every
// decoder returns it for a body it cannot parse; callers decide whether that
// is fatal. An unrecognized operation kind is reported as
// ErrUnknownOperationKind instead.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ErrUnknownOperationKind is returned when an operation's kind is not one of
// the eleven kinds the indexer knows about. This is deliberately fatal: the
// system refuses to silently drop chain state it cannot classify.
var ErrUnknownOperationKind = fmt.Errorf("unknown operation kind")

// wireBlock mirrors the node's /blocks/{id} response shape.
type wireBlock struct {
	Protocol string     `json:"protocol"`
	ChainID  string     `json:"chain_id"`
	Hash     string     `json:"hash"`
	Header   wireHeader `json:"header"`
	Metadata wireMeta   `json:"metadata"`
}

type wireHeader struct {
	Level          int64     `json:"level"`
	Proto          int       `json:"proto"`
	Predecessor    string    `json:"predecessor"`
	Timestamp      time.Time `json:"timestamp"`
	OperationsHash string    `json:"operations_hash"`
	Fitness        []string  `json:"fitness"`
	Context        string    `json:"context"`
	Priority       int       `json:"priority"`
	Signature      string    `json:"signature"`
}

type wireMeta struct {
	Baker                 string        `json:"baker"`
	Level                 wireMetaLevel `json:"level"`
	VotingPeriodKind      string        `json:"voting_period_kind"`
	ConsumedGas           string        `json:"consumed_gas,omitempty"`
	CurrentExpectedQuorum int           `json:"current_expected_quorum,omitempty"`
	ActiveProposal        string        `json:"active_proposal,omitempty"`
}

type wireMetaLevel struct {
	Level                int64 `json:"level"`
	LevelPosition        int64 `json:"level_position"`
	Cycle                int64 `json:"cycle"`
	CyclePosition        int64 `json:"cycle_position"`
	VotingPeriod         int64 `json:"voting_period"`
	VotingPeriodPosition int64 `json:"voting_period_position"`
}

// DecodeBlock parses a blocks/{id} response. It is authoritative: any
// malformed shape is a fatal decode error for the indexing cycle.
func DecodeBlock(body []byte) (chain.Block, error) {
	var w wireBlock
	if err := json.Unmarshal(body, &w); err != nil {
		return chain.Block{}, &DecodeError{Endpoint: "blocks/{id}", Err: err}
	}
	consumedGas, _ := parseOptionalInt64(w.Metadata.ConsumedGas)
	return chain.Block{
		Level:                    w.Header.Level,
		Hash:                     w.Hash,
		Predecessor:              w.Header.Predecessor,
		Timestamp:                w.Header.Timestamp,
		Proto:                    w.Header.Proto,
		Fitness:                  w.Header.Fitness,
		Context:                  w.Header.Context,
		Signature:                w.Header.Signature,
		Protocol:                 w.Protocol,
		ChainID:                  w.ChainID,
		OperationsHash:           w.Header.OperationsHash,
		PeriodKind:               w.Metadata.VotingPeriodKind,
		CurrentExpectedQuorum:    w.Metadata.CurrentExpectedQuorum,
		ActiveProposal:           w.Metadata.ActiveProposal,
		Baker:                    w.Metadata.Baker,
		ConsumedGas:              consumedGas,
		Priority:                 w.Header.Priority,
		MetaLevel:                w.Metadata.Level.Level,
		MetaLevelPosition:        w.Metadata.Level.LevelPosition,
		MetaCycle:                w.Metadata.Level.Cycle,
		MetaCyclePosition:        w.Metadata.Level.CyclePosition,
		MetaVotingPeriod:         w.Metadata.Level.VotingPeriod,
		MetaVotingPeriodPosition: w.Metadata.Level.VotingPeriodPosition,
	}, nil
}

// wireOperationGroup mirrors one entry of blocks/{id}/operations, a batch of
// operations sharing a branch and signature.
type wireOperationGroup struct {
	Protocol  string        `json:"protocol"`
	ChainID   string        `json:"chain_id"`
	Hash      string        `json:"hash"`
	Branch    string        `json:"branch"`
	Contents  []wireContent `json:"contents"`
	Signature string        `json:"signature"`
}

type wireContent struct {
	Kind             string           `json:"kind"`
	Source           string           `json:"source,omitempty"`
	Fee              string           `json:"fee,omitempty"`
	GasLimit         string           `json:"gas_limit,omitempty"`
	StorageLimit     string           `json:"storage_limit,omitempty"`
	Amount           string           `json:"amount,omitempty"`
	Destination      string           `json:"destination,omitempty"`
	Delegate         string           `json:"delegate,omitempty"`
	ManagerPublicKey string           `json:"manager_public_key,omitempty"`
	Balance          string           `json:"balance,omitempty"`
	Proposal         string           `json:"proposal,omitempty"`
	Ballot           string           `json:"ballot,omitempty"`
	Parameters       json.RawMessage  `json:"parameters,omitempty"`
	Script           json.RawMessage  `json:"script,omitempty"`
	Internal         bool             `json:"internal,omitempty"`
	Metadata         *wireContentMeta `json:"metadata,omitempty"`
}

type wireContentMeta struct {
	OperationResult *wireOpResult `json:"operation_result,omitempty"`
}

type wireOpResult struct {
	Status  string          `json:"status,omitempty"`
	Storage json.RawMessage `json:"storage,omitempty"`
}

// normalizeManagerKey renames the historically-varied management public key
// field (managerPubkey) to the canonical manager_public_key in every group
// of every validation pass before the generic unmarshal runs, per spec §4.2.
func normalizeManagerKey(body []byte) []byte {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return body
	}
	changed := false
	for p, pass := range raw {
		for i, item := range pass {
			var groupRaw map[string]json.RawMessage
			if err := json.Unmarshal(item, &groupRaw); err != nil {
				continue
			}
			contentsRaw, ok := groupRaw["contents"]
			if !ok {
				continue
			}
			var contents []map[string]json.RawMessage
			if err := json.Unmarshal(contentsRaw, &contents); err != nil {
				continue
			}
			localChanged := false
			for j, c := range contents {
				if legacy, ok := c["managerPubkey"]; ok {
					if _, already := c["manager_public_key"]; !already {
						c["manager_public_key"] = legacy
						delete(c, "managerPubkey")
						localChanged = true
					}
				}
				contents[j] = c
			}
			if !localChanged {
				continue
			}
			newContents, err := json.Marshal(contents)
			if err != nil {
				continue
			}
			groupRaw["contents"] = newContents
			newGroup, err := json.Marshal(groupRaw)
			if err != nil {
				continue
			}
			raw[p][i] = newGroup
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return body
	}
	return out
}

// DecodeOperationGroups parses blocks/{id}/operations, which is an array of
// arrays of operation groups (one sub-array per validation pass). An empty
// body yields an empty slice, matching the protocol's empty-string response
// on some versions.
func DecodeOperationGroups(body []byte, blockHash string, blockLevel int64, blockTime time.Time, cycle int64) ([]chain.OperationGroup, []chain.Operation, []string, error) {
	if len(body) == 0 {
		return nil, nil, nil, nil
	}
	body = normalizeManagerKey(body)

	var passes [][]wireOperationGroup
	if err := json.Unmarshal(body, &passes); err != nil {
		return nil, nil, nil, &DecodeError{Endpoint: "blocks/{id}/operations", Err: err}
	}

	var groups []chain.OperationGroup
	var ops []chain.Operation
	touched := map[string]struct{}{}

	for _, pass := range passes {
		for _, g := range pass {
			groups = append(groups, chain.OperationGroup{
				Hash:       g.Hash,
				Branch:     g.Branch,
				Signature:  g.Signature,
				Protocol:   g.Protocol,
				ChainID:    g.ChainID,
				BlockID:    blockHash,
				BlockLevel: blockLevel,
			})
			for i, c := range g.Contents {
				kind := chain.OperationKind(c.Kind)
				if !chain.KnownOperationKinds[kind] {
					return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnknownOperationKind, c.Kind)
				}
				op := chain.Operation{
					OperationID:        fmt.Sprintf("%s:%d", g.Hash, i),
					OperationGroupHash: g.Hash,
					Kind:               kind,
					BlockHash:          blockHash,
					BlockLevel:         blockLevel,
					Timestamp:          blockTime,
					Cycle:              cycle,
					Internal:           c.Internal,
					Source:             c.Source,
					Destination:        c.Destination,
					Parameters:         string(c.Parameters),
					Script:             string(c.Script),
					Proposal:           c.Proposal,
					Ballot:             c.Ballot,
				}
				if amt, ok := parseOptionalInt64(c.Amount); ok {
					op.Amount = &amt
				}
				if fee, ok := parseOptionalInt64(c.Fee); ok {
					op.Fee = &fee
				}
				if gas, ok := parseOptionalInt64(c.GasLimit); ok {
					op.GasLimit = &gas
				}
				if sl, ok := parseOptionalInt64(c.StorageLimit); ok {
					op.StorageLimit = &sl
				}
				if c.Metadata != nil && c.Metadata.OperationResult != nil {
					op.Status = c.Metadata.OperationResult.Status
					op.Storage = string(c.Metadata.OperationResult.Storage)
				}
				ops = append(ops, op)

				if c.Source != "" {
					touched[c.Source] = struct{}{}
				}
				if c.Destination != "" {
					touched[c.Destination] = struct{}{}
				}
				if c.Delegate != "" {
					touched[c.Delegate] = struct{}{}
				}
			}
		}
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	return groups, ops, ids, nil
}

func parseOptionalInt64(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
