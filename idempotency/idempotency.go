/*
Package idempotency stores the outcome of POST requests keyed by the
client's Idempotency-Key header, so a retried request gets the original
response instead of a second invoice or payment.

FLOW:
  1. Reserve(key, fingerprint): SET-NX a pending record
  2. handler runs
  3. Complete(key, response) for responses below 500, Release(key) otherwise

  A second request with the same key sees the existing record:
    pending                        → in progress
    completed, same fingerprint    → replay the stored response
    different fingerprint          → key reused for another request

BACKENDS:
  - memory.go: single instance
  - redis.go:  shared between instances
*/
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is what is stored under a key.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Completed   bool   `json:"completed"`
	StatusCode  int    `json:"status_code,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type Store interface {
	// Reserve stores a pending record for key unless one exists. It returns
	// the existing record and false when the key is taken.
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Record, bool, error)

	// Complete replaces the pending record with the finished response.
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error

	// Release drops the key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// Fingerprint identifies a request by caller, method, path and body.
func Fingerprint(caller, method, path string, body []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(caller), []byte(method), []byte(path)} {
		h.Write(part)
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
