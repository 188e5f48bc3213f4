package canon

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSnapshot   = "autarch/snapshot/v1"
	DomainAuditEntry = "autarch/audit-entry/v1"
	DomainProposal   = "autarch/proposal/v1"
)

// SumDomain computes SHA-256 with domain separation, returning the raw
// 32-byte digest. Format: SHA256(domain + 0x00 + data).
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func SumDomain(domain string, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// HashDomain computes SHA-256 hash with domain separation, hex-encoded.
//
// Example: HashDomain(DomainAuditEntry, canonicalBytes)
func HashDomain(domain string, data []byte) string {
	sum := SumDomain(domain, data)
	return hex.EncodeToString(sum[:])
}

// MustMarshalCanonical is like MarshalCanonical but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMarshalCanonical(v any) []byte {
	b, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}
