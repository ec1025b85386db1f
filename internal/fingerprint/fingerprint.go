package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Namespaces scope cache correctness per operation kind.
const (
	NamespaceCluster = "cluster"
	NamespaceFusion  = "fusion"
)

// Record digests the identity-relevant fields of one source record.
// Inputs are normalized before hashing so upstream edits to irrelevant
// fields or incidental whitespace do not invalidate cached decisions.
func Record(recordID, date, place, activity string) []byte {
	h := sha256.New()
	for _, part := range []string{recordID, date, place, activity} {
		h.Write([]byte(normalizeComponent(part)))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// Batch digests an unordered collection of record signatures. Two batches
// with the same members produce the same digest regardless of input order.
func Batch(signatures [][]byte) []byte {
	hexes := make([]string, 0, len(signatures))
	for _, sig := range signatures {
		hexes = append(hexes, hex.EncodeToString(sig))
	}
	sort.Strings(hexes)

	h := sha256.New()
	for _, s := range hexes {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// MemberSet digests an unordered set of record ids, used as the fusion
// cache key for one event's membership.
func MemberSet(recordIDs []string) []byte {
	ids := make([]string, 0, len(recordIDs))
	for _, id := range recordIDs {
		ids = append(ids, normalizeComponent(id))
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// EventKey derives a stable event identifier from a cluster seed. Seeds
// are deterministic (a clustering key, or a record id for singletons), so
// reprocessing the same corpus reproduces the same event keys. Twelve hex
// characters keep keys short enough for URLs while leaving collisions
// negligible at this corpus size.
func EventKey(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:12]
}

// Hex renders a digest for logging and audit rows.
func Hex(digest []byte) string {
	return hex.EncodeToString(digest)
}

func normalizeComponent(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
