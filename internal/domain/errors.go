// Package domain defines the core types and interfaces for Kestrel.
package domain

import "errors"

// The full error taxonomy of the scoring core. Rule evaluation itself
// cannot fail once given a normalized input: rules are total over the
// normalized domain.
var (
	// ErrInvalidInput marks a request missing its transaction_id or holding
	// a field outside its domain. Surfaced to the caller as a request
	// rejection, never coerced into a decision.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration marks malformed threshold/weight configuration at
	// startup. Fatal: the process refuses to start.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound marks a missing persisted record.
	ErrNotFound = errors.New("record not found")
)
