// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrEncoderClosed indicates the encoder has been closed
	ErrEncoderClosed = errors.New("encoder is closed")

	// ErrEncoderNotStarted indicates the encoder has not been started
	ErrEncoderNotStarted = errors.New("encoder is not started")

	// ErrEncoderFailed indicates a previous fatal encode error stopped the encoder
	ErrEncoderFailed = errors.New("encoder has failed")

	// ErrUnknownCodec indicates an unrecognised codec name
	ErrUnknownCodec = errors.New("unrecognised codec")
)

// EncodeError represents a fatal error in the encode pipeline. It carries the
// stage the error occurred in and, where known, the sequence index of the
// frame being processed. An EncodeError terminates the whole pipeline: the
// strict-ordering contract has no way to represent a skipped index, so a
// single corrupted frame cannot be dropped and retried.
type EncodeError struct {
	// Stage is the pipeline stage where the error occurred
	Stage string

	// Index is the sequence index of the frame being processed, if known
	Index uint64

	// HasIndex reports whether Index is meaningful
	HasIndex bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *EncodeError) Error() string {
	if e.HasIndex {
		return fmt.Sprintf("encode error in %s stage (frame %d): %v", e.Stage, e.Index, e.Cause)
	}
	return fmt.Sprintf("encode error in %s stage: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying error
func (e *EncodeError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is a specific error
func (e *EncodeError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// NewEncodeError creates a fatal encode error for a known frame
func NewEncodeError(stage string, index uint64, cause error) *EncodeError {
	return &EncodeError{
		Stage:    stage,
		Index:    index,
		HasIndex: true,
		Cause:    cause,
	}
}

// NewStageError creates a fatal encode error not tied to a particular frame
func NewStageError(stage string, cause error) *EncodeError {
	return &EncodeError{
		Stage: stage,
		Cause: cause,
	}
}
