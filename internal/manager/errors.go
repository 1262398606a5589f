package manager

import (
	"errors"
	"time"
)

// tooBusyError signals that no gate slot freed up within the wait (503 + Retry-After).
type tooBusyError struct{ wait time.Duration }

func (e tooBusyError) Error() string {
	return "server busy: no inference slot within " + e.wait.String()
}

func (tooBusyError) Reason() string { return "busy" }

// IsTooBusy reports whether err indicates gate saturation.
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// dependencyUnavailableError signals that the comparator cannot serve yet
// (warm-up pending or failed) so the HTTP layer returns 503 instead of 500.
type dependencyUnavailableError struct {
	reason string
	msg    string
	cause  error
}

func (e dependencyUnavailableError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e dependencyUnavailableError) Unwrap() error { return e.cause }

func (e dependencyUnavailableError) Reason() string {
	if e.reason == "" {
		return "unavailable"
	}
	return e.reason
}

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error {
	return dependencyUnavailableError{reason: "unavailable", msg: msg}
}

// IsDependencyUnavailable reports whether err indicates a missing or failed backend.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}

// timeoutError signals that a dispatched job missed its deadline.
type timeoutError struct{ deadline time.Duration }

func (e timeoutError) Error() string {
	return "inference did not complete within " + e.deadline.String()
}

func (timeoutError) Reason() string { return "timeout" }

// IsTimeout reports whether err is a dispatch deadline expiry.
func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

// clientError marks malformed or unusable input.
type clientError struct {
	reason string
	msg    string
}

func (e clientError) Error() string { return e.msg }

func (e clientError) ClientReason() string { return e.reason }

// ErrClient constructs an error classified as a client error with a reason code.
func ErrClient(reason, msg string) error {
	if reason == "" {
		reason = "bad_request"
	}
	return clientError{reason: reason, msg: msg}
}

// clientReasoner is implemented by errors from collaborating packages
// (imaging, comparator, directory) that blame the request.
type clientReasoner interface {
	error
	ClientReason() string
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	var cr clientReasoner
	return errors.As(err, &cr)
}

// serverError tags an internal failure with a reason code.
type serverError struct {
	reason string
	err    error
}

func (e serverError) Error() string { return e.err.Error() }

func (e serverError) Unwrap() error { return e.err }

func (e serverError) Reason() string { return e.reason }

// ErrServer wraps err as a server-side failure with the given reason.
func ErrServer(reason string, err error) error {
	if err == nil {
		return nil
	}
	return serverError{reason: reason, err: err}
}

// ErrDispatcherStopped is returned for jobs submitted after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// reasonOf extracts the reason code carried by err, or def.
func reasonOf(err error, def string) string {
	var cr clientReasoner
	if errors.As(err, &cr) {
		return cr.ClientReason()
	}
	var r interface{ Reason() string }
	if errors.As(err, &r) {
		return r.Reason()
	}
	return def
}
