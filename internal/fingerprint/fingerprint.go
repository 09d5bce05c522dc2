// Package fingerprint computes stable content hashes for change detection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Engine implements crawler.Fingerprinter using SHA-256 over the clean text.
// Hashing the cleaned text rather than the raw body keeps the digest stable
// across markup-only churn.
type Engine struct{}

// New returns an Engine.
func New() *Engine {
	return &Engine{}
}

// Fingerprint returns the hex SHA-256 digest of cleanText. Empty text is
// valid and hashes like any other input; content-quality judgment belongs to
// the caller.
func (Engine) Fingerprint(cleanText string) string {
	sum := sha256.Sum256([]byte(cleanText))
	return hex.EncodeToString(sum[:])
}

// Changed reports whether two digests differ.
func (Engine) Changed(existing, next string) bool {
	return existing != next
}
