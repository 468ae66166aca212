package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// Request is the immutable input of one proof resolution. StorageKeys may be
// empty when the caller only wants the account proven.
type Request struct {
	JobID          string         `json:"job_id,omitempty"` // optional, system-assigned when empty
	AccountAddress common.Address `json:"account_address"`
	StorageKeys    []common.Hash  `json:"storage_keys"`
	BlockNumber    uint64         `json:"block_number"`
}

// Clone returns a deep copy; the orchestrator keeps one per background task
// so callers can reuse or mutate their request value freely.
func (r *Request) Clone() *Request {
	cp := *r
	cp.StorageKeys = append([]common.Hash(nil), r.StorageKeys...)
	return &cp
}

// SlotResult carries the per-slot outcome. Partial success across slots is
// reported per key, not all-or-nothing.
type SlotResult struct {
	Slot  string `json:"slot"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// ProvenResult is the terminal payload persisted into the job ledger.
type ProvenResult struct {
	BlockNumber uint64       `json:"block_number"`
	Account     string       `json:"account"`
	StorageHash string       `json:"storage_hash,omitempty"`
	Slots       []SlotResult `json:"slots,omitempty"`
}

// Job failure reasons surfaced to pollers.
const (
	ReasonRelayFailed        = "relay_failed"
	ReasonAccountProofFailed = "account_proof_failed"
	ReasonStorageProofFailed = "storage_proof_failed"
	ReasonNotFound           = "not_found"
	ReasonTimeout            = "timeout"
)

// AccountProof is the canonical encoding the fact registry accepts for an
// account: flattened 64-bit big-endian words of the RLP trie nodes plus the
// byte length of every node.
type AccountProof struct {
	BlockNumber uint64
	Address     common.Address
	Balance     string
	Nonce       uint64
	CodeHash    string
	StorageHash string
	Words       []uint64
	SizedBytes  []int
}

// StorageProof is the canonical encoding for one storage slot.
type StorageProof struct {
	BlockNumber uint64
	Address     common.Address
	Slot        common.Hash
	Value       string
	Words       []uint64
	SizedBytes  []int
}
