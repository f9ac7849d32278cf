// Package audit hashes the inputs of state-mutating actions so the
// append-only task history can be traced back to what triggered it.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
