package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so the consent manager can translate them exactly once.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: no value is stored under the key
// - ErrExpired: the stored value outlived its retention window
// - ErrMalformed: the stored value could not be decoded
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: storage or broker temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrMalformed    = errors.New("malformed")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
