package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ComputeChecksum derives an event's checksum from its parent id and its
// payload. The chain detects corruption and mislinked parents; it is not
// a trust mechanism. A root event hashes with an empty parent id.
func ComputeChecksum(parentID string, payload json.RawMessage) string {
	h := sha256.New()
	h.Write([]byte(parentID))
	h.Write([]byte{'\n'})
	h.Write(canonicalJSON(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum reports whether checksum matches the given parent and
// payload. Events persisted without a checksum verify trivially.
func VerifyChecksum(checksum, parentID string, payload json.RawMessage) bool {
	if checksum == "" {
		return true
	}
	return checksum == ComputeChecksum(parentID, payload)
}

// canonicalJSON re-marshals payload so key order and whitespace do not
// affect the hash. Invalid JSON hashes as its raw bytes.
func canonicalJSON(payload json.RawMessage) []byte {
	if len(payload) == 0 {
		return []byte("{}")
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}
