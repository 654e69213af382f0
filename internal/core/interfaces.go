// Package core defines the shared interfaces and types for the narration service.
package core

import (
	"context"
	"errors"
	"fmt"
)

// ArtifactStore defines the interface for durable key-value blob storage.
// Put returns an opaque location that Get and Delete accept; implementations
// may use the key as the location or derive their own.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
	Delete(ctx context.Context, location string) error
}

// VoiceParams holds the provider-specific synthesis parameters resolved
// from a voice style and an intensity level.
type VoiceParams struct {
	VoiceID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	Speed           float64
}

// Synthesizer defines the interface for a single text-to-speech attempt.
// Implementations perform exactly one provider call per invocation and
// never retry; retry policy belongs to the scheduler.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params VoiceParams) ([]byte, error)
}

// ErrorClass classifies a synthesis failure for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient marks failures a retry can plausibly outlive:
	// rate limiting, timeouts, provider outages.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassPermanent marks failures no retry can fix: invalid input,
	// rejected parameters, exhausted quota.
	ErrorClassPermanent ErrorClass = "permanent"
	// ErrorClassStorage marks artifact store failures surfaced after a
	// successful synthesis; the audio was generated but could not be kept.
	ErrorClassStorage ErrorClass = "storage"
)

// SynthesisError wraps a provider failure with its retry classification.
type SynthesisError struct {
	Class  ErrorClass
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis failed (%s): %s: %v", e.Class, e.Reason, e.Err)
	}

	return fmt.Sprintf("synthesis failed (%s): %s", e.Class, e.Reason)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a SynthesisError that the scheduler may retry.
func NewTransientError(reason string, err error) *SynthesisError {
	return &SynthesisError{Class: ErrorClassTransient, Reason: reason, Err: err}
}

// NewPermanentError builds a SynthesisError that must never be retried.
func NewPermanentError(reason string, err error) *SynthesisError {
	return &SynthesisError{Class: ErrorClassPermanent, Reason: reason, Err: err}
}

// ClassOf reports the retry classification of err. Unclassified errors are
// treated as transient so an unexpected failure mode still gets its retries.
func ClassOf(err error) ErrorClass {
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr.Class
	}

	return ErrorClassTransient
}
