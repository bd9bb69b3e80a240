package models

import "errors"

var (
	// ErrNotFound is returned when a postal code, station, or data column cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrUpstream is returned on transport or response-shape failures talking to an external service.
	ErrUpstream = errors.New("upstream failure")
)
