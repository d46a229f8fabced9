package fact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without colliding with old hashes.
const (
	DomainEvent       = "sentinel/event/v1"
	DomainDedup       = "sentinel/dedup/v1"
	DomainPayload     = "sentinel/payload/v1"
	DomainRuleVersion = "sentinel/rule/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventDedupKey computes the uniqueness key for a compound event:
// one event per (rule, resident, window start). Window start is truncated
// to the hour by the engine before calling this, so periodic re-evaluation
// inside the same hour converges on the same key.
func EventDedupKey(ruleID, residentID string, windowStart int64) (string, error) {
	obj := Object{
		"rule_id":      Str(ruleID),
		"resident_id":  Str(residentID),
		"window_start": Int(windowStart),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventDedupKey: marshal: %w", err)
	}

	return hashWithDomain(DomainDedup, canonical), nil
}

// EventID computes the content-addressed ID for a compound event.
// Stable across re-evaluation of an unchanged window with an unchanged
// rule: the inputs are exactly the reproducibility surface.
func EventID(dedupKey, ruleVersion string, contributingSignals int64) (string, error) {
	obj := Object{
		"dedup_key":    Str(dedupKey),
		"rule_version": Str(ruleVersion),
		"signals":      Int(contributingSignals),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// PayloadHash computes the hash of a gateway submission payload.
// Stored on the idempotency record so a key reuse with a different payload
// is detectable during audit.
func PayloadHash(payload Object) (string, error) {
	canonical, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: marshal: %w", err)
	}

	return hashWithDomain(DomainPayload, canonical), nil
}

// RuleVersionID computes the content-addressed version id of a compiled
// rule definition. Identical definitions always produce the identical
// version id, so catalog reloads are idempotent.
func RuleVersionID(definition Object) (string, error) {
	canonical, err := MarshalCanonical(definition)
	if err != nil {
		return "", fmt.Errorf("RuleVersionID: marshal: %w", err)
	}

	return hashWithDomain(DomainRuleVersion, canonical), nil
}

// MustDedupKey is like EventDedupKey but panics on error.
// Use only in tests with known-valid inputs.
func MustDedupKey(ruleID, residentID string, windowStart int64) string {
	key, err := EventDedupKey(ruleID, residentID, windowStart)
	if err != nil {
		panic(err)
	}
	return key
}
