// Package chain defines the domain records the indexer fetches, decodes and
// persists. Types mirror the field names and optionality of the node's JSON
// RPC responses (see internal/decode) rather than any internal storage
// layout.
package chain

import "time"

// BlockRef identifies a block by hash and level, the minimum information
// needed to address it in the node's RPC path scheme.
type BlockRef struct {
	Hash  string
	Level int64
}

// Block is the per-level chain-data record described in the data model.
type Block struct {
	Level          int64
	Hash           string
	Predecessor    string
	Timestamp      time.Time
	Proto          int
	Fitness        []string
	Context        string
	Signature      string
	Protocol       string
	ChainID        string
	OperationsHash string

	PeriodKind             string
	CurrentExpectedQuorum  int
	ActiveProposal         string

	Baker        string
	ConsumedGas  int64
	Priority     int

	MetaLevel             int64
	MetaLevelPosition      int64
	MetaCycle              int64
	MetaCyclePosition      int64
	MetaVotingPeriod       int64
	MetaVotingPeriodPosition int64
}

// OperationKind enumerates the operation kinds the node's RPC can return.
// An unrecognized kind is a decode error by design (spec'd as fatal: the
// system refuses to silently drop chain state).
type OperationKind string

const (
	KindEndorsement               OperationKind = "endorsement"
	KindSeedNonceRevelation       OperationKind = "seed_nonce_revelation"
	KindActivateAccount           OperationKind = "activate_account"
	KindReveal                    OperationKind = "reveal"
	KindTransaction               OperationKind = "transaction"
	KindOrigination               OperationKind = "origination"
	KindDelegation                OperationKind = "delegation"
	KindDoubleBakingEvidence      OperationKind = "double_baking_evidence"
	KindDoubleEndorsementEvidence OperationKind = "double_endorsement_evidence"
	KindProposals                 OperationKind = "proposals"
	KindBallot                    OperationKind = "ballot"
)

// KnownOperationKinds is used by the decoder to reject unrecognized kinds.
var KnownOperationKinds = map[OperationKind]bool{
	KindEndorsement:               true,
	KindSeedNonceRevelation:       true,
	KindActivateAccount:           true,
	KindReveal:                    true,
	KindTransaction:               true,
	KindOrigination:               true,
	KindDelegation:                true,
	KindDoubleBakingEvidence:      true,
	KindDoubleEndorsementEvidence: true,
	KindProposals:                 true,
	KindBallot:                    true,
}

// OperationGroup is a signed batch of operations sharing a branch/signature.
type OperationGroup struct {
	Hash        string
	Branch      string
	Signature   string
	Protocol    string
	ChainID     string
	BlockID     string
	BlockLevel  int64
}

// Operation is a single operation within an OperationGroup. Kind-specific
// fields are optional and absent unless the kind uses them.
type Operation struct {
	OperationID         string
	OperationGroupHash  string
	Kind                OperationKind
	BlockHash           string
	BlockLevel          int64
	Timestamp           time.Time
	Cycle               int64
	Internal            bool

	Source       string
	Destination  string
	Amount       *int64
	Fee          *int64
	GasLimit     *int64
	StorageLimit *int64
	Parameters   string
	Script       string
	Storage      string
	Status       string
	Ballot       string
	Proposal     string
}

// Account is logically versioned by BlockLevel; the row with the highest
// BlockLevel for an AccountID is the only one a "latest" lookup returns.
type Account struct {
	AccountID      string
	BlockID        string
	BlockLevel     int64
	Manager        string
	Balance        int64
	Spendable      bool
	DelegateSetable bool
	DelegateValue  string
	Counter        int64
	Script         string
	Storage        string
}

// AccountsCheckpoint is a work queue of accounts that need a fresh read at a
// later block, because their up-to-date state is not present in block JSON.
type AccountsCheckpoint struct {
	AccountID  string
	BlockID    string
	BlockLevel int64
}

// Delegate mirrors Account's versioning scheme, keyed by public key hash.
type Delegate struct {
	PKH              string
	BlockID          string
	BlockLevel       int64
	Balance          int64
	FrozenBalance    int64
	StakingBalance   int64
	DelegatedBalance int64
	Deactivated      bool
	GracePeriod      int64
}

// DelegatesCheckpoint is the delegate analogue of AccountsCheckpoint.
type DelegatesCheckpoint struct {
	PKH        string
	BlockID    string
	BlockLevel int64
}

// Rolls records staking weight eligible for voting at a given block.
type Rolls struct {
	PKH        string
	Rolls      int64
	BlockID    string
	BlockLevel int64
}

// RightKind distinguishes baking from endorsing rights rows.
type RightKind string

const (
	RightBaking    RightKind = "baking"
	RightEndorsing RightKind = "endorsing"
)

// Right is one row of blocks/{hash}/helpers/{baking,endorsing}_rights.
type Right struct {
	BlockLevel      int64
	Kind            RightKind
	Delegate        string
	PriorityOrSlot  int
	EstimatedTime   time.Time
}

// Proposal is one row of blocks/{hash}/votes/proposals.
type Proposal struct {
	BlockHash      string
	BlockLevel     int64
	ProposalHash   string
	SupporterCount int64
}

// Ballot is one row of blocks/{hash}/votes/ballot_list.
type Ballot struct {
	BlockHash  string
	BlockLevel int64
	PKH        string
	Ballot     string
	Proposal   string
}

// Listing is one row of blocks/{hash}/votes/listings, carrying voting weight.
type Listing struct {
	BlockHash  string
	BlockLevel int64
	PKH        string
	Rolls      int64
}

// FeeSummary is a derived, append-only aggregation row.
type FeeSummary struct {
	Low       int64
	Medium    int64
	High      int64
	Timestamp time.Time
	Kind      OperationKind
	Cycle     int64
	Level     int64
}

// BlockData bundles everything fetched and decoded for a single level,
// ready to be handed to the persistence layer as one transactional unit.
type BlockData struct {
	Block           Block
	OperationGroups []OperationGroup
	Operations      []Operation
	Rights          []Right
	Proposals       []Proposal
	Ballots         []Ballot
	Listings        []Listing
	// TouchedAccountIDs is extracted from the operations body alongside the
	// operation groups themselves (decode.DecodeOperationGroups returns both)
	// so the walker does not need a second pass over Operations to find them.
	TouchedAccountIDs []string
	TouchedDelegates  []string
}
