// Package canon provides RFC 8785 canonical JSON and domain-separated
// hashing for content-addressed identity.
//
// Every identity in the control plane (snapshot ids, audit entry hashes,
// proposal digests) is computed over canonical bytes produced here. All
// other internal packages import canon; canon imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use int64/uint64 for numbers
//   - All JSON tags use snake_case
//   - Hash domains carry a version suffix for future algorithm migration
package canon
