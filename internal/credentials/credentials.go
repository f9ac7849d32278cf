// Package credentials defines the boundary to the external credential
// collaborator. The core stores only opaque encrypted blobs; decryption
// happens here, at the point of use, through a caller-supplied Decryptor.
package credentials

import (
	"errors"
	"fmt"
)

// ErrCredential indicates decryption failed. The wrapped message never
// contains secret material.
var ErrCredential = errors.New("credential error")

// Decryptor decrypts an opaque encrypted blob. Implementations live outside
// the core (OS keychain, KMS, local key file).
type Decryptor interface {
	Decrypt(blob string) (string, error)
}

// Open decrypts a profile's secret blob. An empty blob yields an empty
// secret. Failures are wrapped in ErrCredential with a redacted message so
// neither the blob nor the plaintext ever reaches a task row or log line.
func Open(d Decryptor, blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	if d == nil {
		return "", fmt.Errorf("%w: no decryptor configured", ErrCredential)
	}
	secret, err := d.Decrypt(blob)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed", ErrCredential)
	}
	return secret, nil
}

// Plaintext is a Decryptor for development and tests: it returns the blob
// unchanged.
type Plaintext struct{}

// Decrypt returns the blob as-is.
func (Plaintext) Decrypt(blob string) (string, error) {
	return blob, nil
}
