// Package apperr defines the pipeline's error taxonomy. Callers branch on
// these types with errors.As to decide retry, skip, and degrade behavior.
package apperr

import (
	"errors"
	"fmt"
)

// Error codes surfaced in ImportResult.Errors and log fields.
const (
	CodeNetwork         = "network_error"
	CodeTimeout         = "timeout"
	CodeInvalidResponse = "invalid_response"
	CodeAPI             = "api_error"
	CodeValidation      = "validation_error"
	CodeDuplicate       = "duplicate"
	CodeImageFetch      = "image_fetch_error"
	CodeInvalidImage    = "invalid_image_type"
	CodeImageProcess    = "image_process_error"
	CodePersistence     = "persistence_error"
)

// NetworkError wraps a transport-level failure. Retryable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error during %s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError marks a call that exceeded its deadline. Retryable.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout during %s: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// InvalidResponseError marks an upstream payload whose shape does not match
// the contract. Never retried and never coerced to an empty result.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string { return "invalid upstream response: " + e.Reason }

// ApiError is a well-formed non-2xx upstream response. Not retried.
type ApiError struct {
	Status int
	Body   string
}

func (e *ApiError) Error() string { return fmt.Sprintf("upstream API returned status %d", e.Status) }

// NotFound reports whether the upstream answered 404.
func (e *ApiError) NotFound() bool { return e.Status == 404 }

// ValidationError marks a malformed incoming item, rejected before it enters
// the pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on field %q: %s", e.Field, e.Reason)
}

// DuplicateError is returned by ingestion when the item already exists and
// the caller asked for duplicate checking. Batch runs translate it into a
// skip rather than a failure.
type DuplicateError struct {
	Field string
	Value string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate article: %s=%s already stored", e.Field, e.Value)
}

// ImageFetchError marks an unreachable or undownloadable source image.
type ImageFetchError struct {
	URL string
	Err error
}

func (e *ImageFetchError) Error() string { return fmt.Sprintf("fetch image %s: %v", e.URL, e.Err) }
func (e *ImageFetchError) Unwrap() error { return e.Err }

// InvalidImageTypeError marks a URL or response that is not an image.
type InvalidImageTypeError struct {
	URL    string
	Reason string
}

func (e *InvalidImageTypeError) Error() string {
	return fmt.Sprintf("invalid image %s: %s", e.URL, e.Reason)
}

// ImageProcessError marks a decode/resize/encode failure.
type ImageProcessError struct {
	Step string
	Err  error
}

func (e *ImageProcessError) Error() string { return fmt.Sprintf("image %s failed: %v", e.Step, e.Err) }
func (e *ImageProcessError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// Code maps an error to its taxonomy code for result reporting. Unknown
// errors report as persistence failures since those are the only untyped
// ones left by the time a result is assembled.
func Code(err error) string {
	switch {
	case errors.As(err, new(*NetworkError)):
		return CodeNetwork
	case errors.As(err, new(*TimeoutError)):
		return CodeTimeout
	case errors.As(err, new(*InvalidResponseError)):
		return CodeInvalidResponse
	case errors.As(err, new(*ApiError)):
		return CodeAPI
	case errors.As(err, new(*ValidationError)):
		return CodeValidation
	case errors.As(err, new(*DuplicateError)):
		return CodeDuplicate
	case errors.As(err, new(*ImageFetchError)):
		return CodeImageFetch
	case errors.As(err, new(*InvalidImageTypeError)):
		return CodeInvalidImage
	case errors.As(err, new(*ImageProcessError)):
		return CodeImageProcess
	default:
		return CodePersistence
	}
}

// Retryable reports whether err is transient enough to retry: transport and
// deadline failures only. Well-formed API responses, including 5xx, are not
// retried.
func Retryable(err error) bool {
	return errors.As(err, new(*NetworkError)) || errors.As(err, new(*TimeoutError))
}
