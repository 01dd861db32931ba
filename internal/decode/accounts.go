package decode

import (
	"encoding/json"
	"time"

	"lorre/internal/chain"
)

// wireAccount mirrors blocks/{hash}/context/contracts/{id}. This endpoint is
// "tolerant" data per spec §4.2: a malformed or empty body is logged and
// treated as absent by the caller (internal/checkpoint), not a fatal error.
type wireAccount struct {
	Manager         string `json:"manager"`
	Balance         string `json:"balance"`
	Spendable       bool   `json:"spendable"`
	DelegateValue   *struct {
		Setable bool   `json:"setable"`
		Value   string `json:"value"`
	} `json:"delegate,omitempty"`
	Counter string          `json:"counter,omitempty"`
	Script  json.RawMessage `json:"script,omitempty"`
	Storage json.RawMessage `json:"storage,omitempty"`
}

// DecodeAccount parses a single account context body.
func DecodeAccount(body []byte, accountID, blockID string, blockLevel int64) (chain.Account, error) {
	if len(body) == 0 {
		return chain.Account{}, &DecodeError{Endpoint: "context/contracts/{id}", Err: errEmptyBody}
	}
	var w wireAccount
	if err := json.Unmarshal(body, &w); err != nil {
		return chain.Account{}, &DecodeError{Endpoint: "context/contracts/{id}", Err: err}
	}
	balance, _ := parseOptionalInt64(w.Balance)
	counter, _ := parseOptionalInt64(w.Counter)
	acc := chain.Account{
		AccountID:  accountID,
		BlockID:    blockID,
		BlockLevel: blockLevel,
		Manager:    w.Manager,
		Balance:    balance,
		Spendable:  w.Spendable,
		Counter:    counter,
		Script:     string(w.Script),
		Storage:    string(w.Storage),
	}
	if w.DelegateValue != nil {
		acc.DelegateSetable = w.DelegateValue.Setable
		acc.DelegateValue = w.DelegateValue.Value
	}
	return acc, nil
}

// wireDelegate mirrors blocks/{hash}/context/delegates/{pkh}.
type wireDelegate struct {
	Balance          string   `json:"balance"`
	FrozenBalance    string   `json:"frozen_balance"`
	StakingBalance   string   `json:"staking_balance"`
	DelegatedBalance string   `json:"delegated_balance"`
	Deactivated      bool     `json:"deactivated"`
	GracePeriod      int64    `json:"grace_period"`
}

// DecodeDelegate parses a single delegate context body; also tolerant data.
func DecodeDelegate(body []byte, pkh, blockID string, blockLevel int64) (chain.Delegate, error) {
	if len(body) == 0 {
		return chain.Delegate{}, &DecodeError{Endpoint: "context/delegates/{pkh}", Err: errEmptyBody}
	}
	var w wireDelegate
	if err := json.Unmarshal(body, &w); err != nil {
		return chain.Delegate{}, &DecodeError{Endpoint: "context/delegates/{pkh}", Err: err}
	}
	balance, _ := parseOptionalInt64(w.Balance)
	frozen, _ := parseOptionalInt64(w.FrozenBalance)
	staking, _ := parseOptionalInt64(w.StakingBalance)
	delegated, _ := parseOptionalInt64(w.DelegatedBalance)
	return chain.Delegate{
		PKH:              pkh,
		BlockID:          blockID,
		BlockLevel:       blockLevel,
		Balance:          balance,
		FrozenBalance:    frozen,
		StakingBalance:   staking,
		DelegatedBalance: delegated,
		Deactivated:      w.Deactivated,
		GracePeriod:      w.GracePeriod,
	}, nil
}

type wireRight struct {
	Level         int64     `json:"level"`
	Delegate      string    `json:"delegate"`
	Priority      *int      `json:"priority,omitempty"`
	Slot          *int      `json:"slot,omitempty"`
	EstimatedTime time.Time `json:"estimated_time"`
}

// DecodeRights parses blocks/{hash}/helpers/{baking,endorsing}_rights. An
// empty body yields an empty slice silently, per spec §4.2.
func DecodeRights(body []byte, kind chain.RightKind) ([]chain.Right, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var wire []wireRight
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{Endpoint: "helpers/*_rights", Err: err}
	}
	out := make([]chain.Right, 0, len(wire))
	for _, w := range wire {
		p := 0
		if w.Priority != nil {
			p = *w.Priority
		} else if w.Slot != nil {
			p = *w.Slot
		}
		out = append(out, chain.Right{
			BlockLevel:     w.Level,
			Kind:           kind,
			Delegate:       w.Delegate,
			PriorityOrSlot: p,
			EstimatedTime:  w.EstimatedTime,
		})
	}
	return out, nil
}

type wireProposal struct {
	Proposal string `json:"proposal"`
	Count    int64  `json:"supporters,omitempty"`
}

type wireBallotListEntry struct {
	PKH      string `json:"pkh"`
	Ballot   string `json:"ballot"`
	Proposal string `json:"proposal"`
}

type wireListingEntry struct {
	PKH   string `json:"pkh"`
	Rolls int64  `json:"rolls"`
}

// DecodeProposals parses blocks/{hash}/votes/proposals.
func DecodeProposals(body []byte, blockHash string, blockLevel int64) ([]chain.Proposal, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var wire []wireProposal
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{Endpoint: "votes/proposals", Err: err}
	}
	out := make([]chain.Proposal, 0, len(wire))
	for _, w := range wire {
		out = append(out, chain.Proposal{BlockHash: blockHash, BlockLevel: blockLevel, ProposalHash: w.Proposal, SupporterCount: w.Count})
	}
	return out, nil
}

// DecodeBallotList parses blocks/{hash}/votes/ballot_list.
func DecodeBallotList(body []byte, blockHash string, blockLevel int64) ([]chain.Ballot, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var wire []wireBallotListEntry
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{Endpoint: "votes/ballot_list", Err: err}
	}
	out := make([]chain.Ballot, 0, len(wire))
	for _, w := range wire {
		out = append(out, chain.Ballot{BlockHash: blockHash, BlockLevel: blockLevel, PKH: w.PKH, Ballot: w.Ballot, Proposal: w.Proposal})
	}
	return out, nil
}

// DecodeListings parses blocks/{hash}/votes/listings.
func DecodeListings(body []byte, blockHash string, blockLevel int64) ([]chain.Listing, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var wire []wireListingEntry
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &DecodeError{Endpoint: "votes/listings", Err: err}
	}
	out := make([]chain.Listing, 0, len(wire))
	for _, w := range wire {
		out = append(out, chain.Listing{BlockHash: blockHash, BlockLevel: blockLevel, PKH: w.PKH, Rolls: w.Rolls})
	}
	return out, nil
}

var errEmptyBody = emptyBodyError{}

type emptyBodyError struct{}

func (emptyBodyError) Error() string { return "empty response body" }
