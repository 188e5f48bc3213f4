// Package snapshot defines the identity model for configuration versions:
// content-addressed ids and the immutable descriptors that form the
// promotion DAG.
//
// This package contains types and identity computation only. Descriptors
// are created by a successful promotion, never mutated afterward, and
// superseded rather than edited. Ids are SHA-256 digests over canonical
// JSON with domain separation, so identical content always yields the
// same id regardless of where or when it is computed.
package snapshot
