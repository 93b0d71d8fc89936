// Package feederr defines the error taxonomy shared by the feed generation and
// registration pipeline.
package feederr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the pipeline reacts to it
type Kind string

const (
	// KindTransient errors are retried (remote timeouts and 5xx, filesystem contention)
	KindTransient Kind = "transient"

	// KindConfiguration errors need an external corrective action and are not retried automatically
	KindConfiguration Kind = "configuration"

	// KindFilesystem errors abort the current generation cycle
	KindFilesystem Kind = "filesystem"

	// KindLogic is the fallback for anything unclassified
	KindLogic Kind = "logic"
)

// Error is a classified pipeline error
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configuration wraps err as a configuration error
func Configuration(op string, err error) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// Configurationf builds a configuration error from a format string
func Configurationf(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Filesystem wraps err as a filesystem error with a descriptive message
func Filesystem(op, message string, err error) error {
	return &Error{Kind: KindFilesystem, Op: op, Message: message, Err: err}
}

// Transient wraps err as a transient error
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are reported as KindLogic.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindLogic
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
