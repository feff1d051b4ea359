// Package faults defines the error kinds shared across collectors, the
// store, and the API layer. Callers classify with errors.Is and wrap with
// fmt.Errorf("...: %w", kind) so context survives the trip up the stack.
package faults

import "errors"

var (
	// ErrUpstreamUnavailable marks a transport failure against a source
	// API or the price oracle. Collectors log it and retry next tick.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrRateLimited marks 429/throttling. The tick ends without
	// advancing the checkpoint.
	ErrRateLimited = errors.New("rate limited")

	// ErrDecode marks a source record that cannot be parsed. The record
	// is skipped and counted; the batch continues.
	ErrDecode = errors.New("decode error")

	// ErrNotFound marks a missing whale/wallet. Surfaced as a 404 to API
	// callers; internal writers check existence first.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation refused because another instance is
	// already running (for example a backfill in flight).
	ErrConflict = errors.New("conflict")

	// ErrInvariant marks a broken internal contract. Fatal for the
	// operation that hit it.
	ErrInvariant = errors.New("invariant violation")
)
