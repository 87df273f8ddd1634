package backend

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies why an attempt failed.
type FailureKind string

const (
	FailureTargetNotFound FailureKind = "target_not_found"
	FailureAssertion      FailureKind = "assertion"
	FailureInfrastructure FailureKind = "infrastructure"
	FailureTimeout        FailureKind = "timeout"
)

// Failure is the error executors return for a failed attempt.
type Failure struct {
	Kind    FailureKind
	Message string
	Err     error

	Artifact     []byte
	ArtifactType string
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Failuref builds a Failure with a formatted message.
func Failuref(kind FailureKind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure builds a Failure around err.
func WrapFailure(kind FailureKind, msg string, err error) *Failure {
	return &Failure{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the failure kind of err. Deadline errors are timeouts and
// anything unrecognised is an infrastructure failure.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureInfrastructure
}

// IsTargetNotFound reports whether err means the target element was missing.
func IsTargetNotFound(err error) bool {
	return KindOf(err) == FailureTargetNotFound
}

// ArtifactOf returns the evidence attached to a failure, if any.
func ArtifactOf(err error) ([]byte, string) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Artifact, f.ArtifactType
	}
	return nil, ""
}
