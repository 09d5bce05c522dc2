// Package store holds errors shared by the storage backends.
package store

import "errors"

// Sentinel errors returned by DocumentStore and JobStore implementations.
// Callers match with errors.Is to map them onto API responses.
var (
	ErrPageNotFound = errors.New("page not found")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobExists    = errors.New("job already exists")
)
