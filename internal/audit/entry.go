package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GenesisHash is the well-known hash of the genesis entry and the trust
// anchor of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor is the actor recorded for events the service emits on its own.
const SystemActor = "campusvote"

// ErrEntryNotFound is returned by Get for an index outside the chain.
var ErrEntryNotFound = errors.New("audit entry not found")

// Entry is a single record in the audit ledger.
type Entry struct {
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   string          `json:"subject"`   // voter:<id>, ballot:<id>
	Action    string          `json:"action"`    // otp.requested, otp.verified, vote.cast, genesis
	Actor     string          `json:"actor"`
	Details   json.RawMessage `json:"details,omitempty"`
	DataHash  string          `json:"data_hash"` // SHA-256 of Details as appended
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// hashEntry computes the chain hash of an entry. Never called on genesis.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Subject, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// verifyChain checks a single link. prev is nil for the genesis entry.
func verifyChain(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.DataHash != sha256Sum(curr.Details) {
		return fmt.Errorf("entry %d details do not match data hash", curr.Index)
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
