package audit

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/roach88/autarch/internal/canon"
)

// Entry is one line of the trail. PrevHash is the hex hash of the
// complete preceding entry (empty for the first), Signature the base64
// Ed25519 signature over the entry's canonical unsigned form.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	CycleNumber uint64    `json:"cycle_number"`
	Event       Event     `json:"event"`
	PrevHash    string    `json:"previous_entry_hash"`
	Signature   string    `json:"signature"`
}

// signingMap is the canonical form the signature covers: everything
// except the signature itself.
func (e Entry) signingMap() map[string]any {
	return map[string]any{
		"timestamp":           e.Timestamp.UTC().Format(time.RFC3339Nano),
		"cycle_number":        e.CycleNumber,
		"event":               e.Event.canonicalMap(),
		"previous_entry_hash": e.PrevHash,
	}
}

// SigningBytes returns the canonical bytes the signature covers.
func (e Entry) SigningBytes() []byte {
	return canon.MustMarshalCanonical(e.signingMap())
}

// Hash returns the entry's domain-separated hex hash. It covers the
// complete entry, signature included, so a successor's PrevHash pins
// every stored byte of this entry.
func (e Entry) Hash() string {
	m := e.signingMap()
	m["signature"] = e.Signature
	return canon.HashDomain(canon.DomainAuditEntry, canon.MustMarshalCanonical(m))
}

// VerifySignature checks Signature against pub over the canonical
// unsigned form.
func (e Entry) VerifySignature(pub ed25519.PublicKey) bool {
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, e.SigningBytes(), sig)
}

// ChainValid walks entries in order checking that each entry's PrevHash
// equals the recomputed hash of its predecessor, and that the first
// entry's PrevHash is empty. It returns the index of the first entry
// whose link is broken, or (-1, true) when the chain holds.
func ChainValid(entries []Entry) (int, bool) {
	for i, e := range entries {
		if i == 0 {
			if e.PrevHash != "" {
				return 0, false
			}
			continue
		}
		if e.PrevHash != entries[i-1].Hash() {
			return i, false
		}
	}
	return -1, true
}

// SignaturesValid checks every entry's signature against pub, returning
// the index of the first invalid one, or (-1, true) when all hold.
func SignaturesValid(entries []Entry, pub ed25519.PublicKey) (int, bool) {
	for i, e := range entries {
		if !e.VerifySignature(pub) {
			return i, false
		}
	}
	return -1, true
}
