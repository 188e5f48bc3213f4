package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/autarch/internal/canon"
)

func TestComputeIDDeterminism(t *testing.T) {
	content := canon.MustMarshalCanonical(map[string]any{
		"changes":       []any{"add_field:order.priority"},
		"justification": "hot pattern promotion",
	})

	a := ComputeID(content)
	b := ComputeID(content)
	assert.Equal(t, a, b, "identical content must yield the same id")
	assert.False(t, a.IsZero())
}

func TestComputeIDDistinctContent(t *testing.T) {
	a := ComputeID([]byte("alpha"))
	b := ComputeID([]byte("beta"))
	assert.NotEqual(t, a, b)
}

func TestParseIDRoundTrip(t *testing.T) {
	id := ComputeID([]byte("round trip"))

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseIDRejectsBadInput(t *testing.T) {
	_, err := ParseID("not-hex")
	require.Error(t, err)

	_, err = ParseID("abcd")
	require.Error(t, err, "short input must be rejected")
}

func TestIDShort(t *testing.T) {
	id := ComputeID([]byte("short form"))
	assert.Len(t, id.Short(), 12)
	assert.Equal(t, id.String()[:12], id.Short())
}

func TestDescriptorGenesis(t *testing.T) {
	id := ComputeID([]byte("genesis"))
	now := time.Now().UTC()

	d := Genesis(id, now)
	assert.Equal(t, id, d.SnapshotID)
	assert.False(t, d.HasParent())
	assert.Equal(t, uint64(0), d.Generation)
	assert.Equal(t, now, d.PromotedAt)
}

func TestDescriptorCanonicalMap(t *testing.T) {
	parent := ComputeID([]byte("parent"))
	child := ComputeID([]byte("child"))
	at := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	d := NewDescriptor(child, &parent, 3, at)
	m := d.CanonicalMap()

	assert.Equal(t, child.String(), m["snapshot_id"])
	assert.Equal(t, parent.String(), m["parent_id"])
	assert.Equal(t, uint64(3), m["generation"])

	// The map must be canonically serializable (no floats, no nil).
	_, err := canon.MarshalCanonical(m)
	require.NoError(t, err)

	// Genesis omits parent_id entirely rather than carrying null.
	g := Genesis(parent, at).CanonicalMap()
	_, hasParent := g["parent_id"]
	assert.False(t, hasParent)
	_, err = canon.MarshalCanonical(g)
	require.NoError(t, err)
}
