// Package comparator defines the face-similarity backend the admission
// pipeline protects, plus an HTTP client for an inference sidecar and a
// multi-model ensemble on top of it.
package comparator

import (
	"context"
	"fmt"
)

// Options selects how a single comparison is performed.
type Options struct {
	Model            string
	Detector         string
	Metric           string
	EnforceDetection bool
	Align            bool
}

// DefaultOptions mirrors the settings the verification endpoints use.
func DefaultOptions(model string) Options {
	return Options{
		Model:            model,
		Detector:         "opencv",
		Metric:           "cosine",
		EnforceDetection: true,
		Align:            true,
	}
}

// Result is the backend's verdict for one model.
type Result struct {
	Distance  float64
	Threshold float64
	Verified  bool
	Model     string
}

// Similarity is 1 - distance.
func (r Result) Similarity() float64 { return 1 - r.Distance }

// Comparator compares two encoded images. Implementations may be slow and
// memory hungry; callers are expected to serialize access.
type Comparator interface {
	Compare(ctx context.Context, a, b []byte, opts Options) (Result, error)
}

// Func adapts a plain function to Comparator.
type Func func(ctx context.Context, a, b []byte, opts Options) (Result, error)

func (f Func) Compare(ctx context.Context, a, b []byte, opts Options) (Result, error) {
	return f(ctx, a, b, opts)
}

// InputError is returned when the backend rejects the images themselves,
// e.g. no face could be detected.
type InputError struct {
	Reason string
	Msg    string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("comparator rejected input: %s", e.Msg)
}

// ClientReason classifies the error as the caller's fault.
func (e *InputError) ClientReason() string {
	if e.Reason == "" {
		return "invalid_image"
	}
	return e.Reason
}

// ResponseError is returned when a successful backend reply carries no
// usable verdict. It is never treated as a match.
type ResponseError struct {
	Msg string
	Err error
}

func (e *ResponseError) Error() string { return "comparator response: " + e.Msg }

func (e *ResponseError) Unwrap() error { return e.Err }

func (e *ResponseError) Reason() string { return "comparator_bad_response" }
