// Package apperr maps the engine's failure taxonomy onto go-errors categories.
//
// Every error that crosses a package boundary carries a text code, so callers can
// branch on HasCode or KindOf instead of matching strings.
package apperr

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to engine errors.
const (
	CodeNetwork            = "NETWORK_FAILURE"
	CodeRemoteStatus       = "REMOTE_STATUS"
	CodeQueueFull          = "QUEUE_FULL"
	CodeInvalidMutation    = "INVALID_MUTATION"
	CodeUploadTooLarge     = "UPLOAD_TOO_LARGE"
	CodeUploadType         = "UPLOAD_TYPE_NOT_ALLOWED"
	CodeUploadExtension    = "UPLOAD_EXTENSION_NOT_ALLOWED"
	CodeNoOfflineData      = "NO_OFFLINE_DATA"
	CodeRetriesExhausted   = "RETRIES_EXHAUSTED"
	CodeStorage            = "STORAGE_FAILURE"
	CodeInvalidFetchResult = "INVALID_FETCH_RESULT"
	CodeNotFound           = "NOT_FOUND"
)

// Kind is the coarse failure class used by callers deciding how to degrade.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindValidation
	KindOfflineMiss
	KindExhausted
	KindStorage
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindOfflineMiss:
		return "offline_miss"
	case KindExhausted:
		return "exhausted"
	case KindStorage:
		return "storage"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Transient wraps a network level failure (timeout, refused connection, 5xx).
func Transient(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithTextCode(CodeNetwork)
}

// RemoteStatus reports a non successful response from a remote API.
func RemoteStatus(status int, message string) error {
	return goerrors.New(message, goerrors.CategoryExternal).
		WithTextCode(CodeRemoteStatus).
		WithMetadata(map[string]any{"status": status})
}

// Validation reports a synchronous, local rejection.
func Validation(code, message string, metadata map[string]any) error {
	e := goerrors.New(message, goerrors.CategoryValidation).WithTextCode(code)
	if len(metadata) > 0 {
		e = e.WithMetadata(metadata)
	}
	return e
}

// NoOfflineData reports a cache miss that could not be served from the backup store.
// cause may be nil when the engine was offline and never attempted a fetch.
func NoOfflineData(key string, cause error) error {
	var e *goerrors.Error
	if cause != nil {
		e = goerrors.Wrap(cause, goerrors.CategoryNotFound, "no offline data available")
	} else {
		e = goerrors.New("no offline data available", goerrors.CategoryNotFound)
	}
	return e.WithTextCode(CodeNoOfflineData).WithMetadata(map[string]any{"key": key})
}

// NotFound reports a missing local record.
func NotFound(message string, metadata map[string]any) error {
	e := goerrors.New(message, goerrors.CategoryNotFound).WithTextCode(CodeNotFound)
	if len(metadata) > 0 {
		e = e.WithMetadata(metadata)
	}
	return e
}

// Exhausted reports a queued mutation that ran out of attempts.
func Exhausted(err error, attempts int) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "retry budget exhausted").
		WithTextCode(CodeRetriesExhausted).
		WithMetadata(map[string]any{"attempts": attempts})
}

// Storage wraps a failure of the durable tables.
func Storage(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(CodeStorage)
}

// Internal reports a programming or decoding error with a specific code.
func Internal(err error, code, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).WithTextCode(code)
}

// HasCode reports whether err, or any error it wraps, carries the text code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *goerrors.Error
		if !errors.As(err, &e) {
			return false
		}
		if e.TextCode == code {
			return true
		}
		err = e.Unwrap()
	}
	return false
}

// Metadata returns the metadata attached to the outermost go-errors error.
func Metadata(err error) map[string]any {
	var e *goerrors.Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return KindUnknown
	}
	switch e.TextCode {
	case CodeNetwork, CodeRemoteStatus:
		return KindTransient
	case CodeQueueFull, CodeInvalidMutation, CodeUploadTooLarge, CodeUploadType, CodeUploadExtension:
		return KindValidation
	case CodeNoOfflineData:
		return KindOfflineMiss
	case CodeRetriesExhausted:
		return KindExhausted
	case CodeStorage:
		return KindStorage
	case CodeNotFound:
		return KindNotFound
	}
	return KindUnknown
}
