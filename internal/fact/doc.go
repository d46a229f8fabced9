// Package fact defines the core record types of the intelligence pipeline:
// signal facts, compound intelligence events with their contribution
// evidence, risk trajectory projections, and the versioned brain state
// record with its transition history.
//
// The package also provides the canonical JSON serialization (RFC 8785
// subset with NFC normalization) used for all content-addressed identity:
// event dedup keys, idempotency payload hashes, and contribution snapshots.
// Canonical values are constrained to string/int/bool/array/object - floats
// and nulls are rejected because they break byte-stable hashing.
package fact
