package models

import "errors"

var (
	// ErrSourceUnavailable means an upstream failed and nothing usable was cached.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrStaleData marks a value served past its freshness bound.
	ErrStaleData = errors.New("stale data")
	// ErrInsufficientGeometry means fewer than 4 usable satellites or a singular geometry matrix.
	ErrInsufficientGeometry = errors.New("insufficient geometry")
	// ErrMalformedResponse means an upstream payload failed validation.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrTimeout means the primary backend exceeded its time bound.
	ErrTimeout = errors.New("timeout")
)
