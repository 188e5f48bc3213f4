package snapshot

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/roach88/autarch/internal/canon"
)

// ID is a fixed-size content digest identifying a configuration version.
// Two snapshots with identical content yield the same ID (determinism).
// The zero value is not a valid id.
type ID [32]byte

// ComputeID derives a snapshot id from content bytes using
// domain-separated SHA-256. The content should already be canonical
// (see canon.MarshalCanonical) so logically identical snapshots collapse
// to one id.
func ComputeID(content []byte) ID {
	return ID(canon.SumDomain(canon.DomainSnapshot, content))
}

// ParseID decodes a 64-character hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse snapshot id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse snapshot id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MustParseID is like ParseID but panics on error.
// Use only in tests or with known-valid input.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the full hex encoding.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex characters for logs and human output.
func (id ID) Short() string {
	return hex.EncodeToString(id[:6])
}

// IsZero reports whether the id is the (invalid) zero digest.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Descriptor records one promoted configuration version. Descriptors form
// a DAG via ParentID; the hard invariants require that DAG be acyclic and
// forward-only in time.
//
// A Descriptor is created only by a successful promotion and NEVER
// mutated after creation. Reactivating an old snapshot (rollback) creates
// a fresh Descriptor with a higher generation; it does not edit this one.
type Descriptor struct {
	// SnapshotID is the content digest of the promoted snapshot.
	SnapshotID ID `json:"snapshot_id"`

	// ParentID links to the previously-current snapshot, nil for genesis.
	ParentID *ID `json:"parent_id,omitempty"`

	// Generation counts promotions monotonically; a rollback is itself a
	// promotion and increments it.
	Generation uint64 `json:"generation"`

	// PromotedAt is when the descriptor became current.
	PromotedAt time.Time `json:"promoted_at"`
}

// NewDescriptor builds a descriptor for a forward promotion.
func NewDescriptor(id ID, parent *ID, generation uint64, promotedAt time.Time) *Descriptor {
	return &Descriptor{
		SnapshotID: id,
		ParentID:   parent,
		Generation: generation,
		PromotedAt: promotedAt,
	}
}

// Genesis builds the parentless generation-0 descriptor.
func Genesis(id ID, promotedAt time.Time) *Descriptor {
	return NewDescriptor(id, nil, 0, promotedAt)
}

// HasParent reports whether the descriptor links to a prior snapshot.
func (d *Descriptor) HasParent() bool {
	return d.ParentID != nil
}

// CanonicalMap renders the descriptor for canonical serialization
// (audit payloads, knowledge records). Timestamps become RFC 3339 UTC
// strings; the parent key is omitted for genesis rather than null.
func (d *Descriptor) CanonicalMap() map[string]any {
	m := map[string]any{
		"snapshot_id": d.SnapshotID.String(),
		"generation":  d.Generation,
		"promoted_at": d.PromotedAt.UTC().Format(time.RFC3339Nano),
	}
	if d.ParentID != nil {
		m["parent_id"] = d.ParentID.String()
	}
	return m
}
