// Package core defines sentinel errors and the identifiers shared by the
// pipeline, its configuration and its reporting.
package core

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w", err) by callers.
var (
	// Configuration errors
	ErrConfigInvalid   = errors.New("impair: invalid configuration")
	ErrInvalidPortMask = errors.New("impair: invalid port mask")
	ErrInvalidRate     = errors.New("impair: invalid rate")
	ErrUnknownLossMode = errors.New("impair: unknown loss mode")

	// Port errors
	ErrPortNotFound   = errors.New("impair: port backend not found")
	ErrPortInitFailed = errors.New("impair: port init failed")
	ErrPortClosed     = errors.New("impair: port closed")

	// Pipeline errors
	ErrPipelineRunning = errors.New("impair: pipeline already running")
	ErrStageFailed     = errors.New("impair: pipeline stage failed")
	ErrAffinity        = errors.New("impair: cannot pin thread to cpu")
)
