// Package errors classifies failures of the refresher into categories the ops API and the CLI report.
package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/chainsafe/senate-indexer/pkg/adapters"
	"github.com/chainsafe/senate-indexer/pkg/governance"
	"github.com/chainsafe/senate-indexer/pkg/retry"
)

// Category defines error category
type Category int

const (
	// CategoryNoError marks a successful call in metrics.
	CategoryNoError Category = iota
	// CategoryDataError The caller sent invalid input, or a source returned a record that could not be decoded.
	CategoryDataError
	// CategoryResourceNotFound The entity or proposal does not exist
	CategoryResourceNotFound
	// CategoryNotSupported No adapter serves the requested source type
	CategoryNotSupported
	// CategoryDataConflict The write conflicts with existing data
	CategoryDataConflict
	// CategoryDependencyFailure An upstream provider kept failing after retries
	CategoryDependencyFailure
	// CategoryGeneralError The service failed in an unexpected way
	CategoryGeneralError
	// CategoryConnectionTimeout The call ran out of time
	CategoryConnectionTimeout
)

func (c Category) String() string {
	switch c {
	case CategoryNoError:
		return "CategoryNoError"
	case CategoryDataError:
		return "CategoryDataError"
	case CategoryResourceNotFound:
		return "CategoryResourceNotFound"
	case CategoryNotSupported:
		return "CategoryNotSupported"
	case CategoryDataConflict:
		return "CategoryDataConflict"
	case CategoryDependencyFailure:
		return "CategoryDependencyFailure"
	case CategoryConnectionTimeout:
		return "CategoryConnectionTimeout"
	default:
		return "CategoryGeneralError"
	}
}

// ServiceError carries a category and a caller-facing message next to the underlying error.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error method to comply with error interface
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// IsInternalError reports whether err should be logged as a failure of the service itself.
func IsInternalError(err error) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category < CategoryDependencyFailure {
		return false
	}
	return true
}

func newError(cat Category, err error, message, fallback string) error {
	if err == nil {
		err = errors.New(fallback + message)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError returns a general service error.
// The message sent to the caller is "Internal Server Error"; err is only logged.
func GeneralError(err error) error {
	if err == nil {
		err = errors.New("internal server error")
	}
	return &ServiceError{
		Category: CategoryGeneralError,
		Message:  "Internal Server Error",
		Err:      err,
	}
}

// ResourceNotFoundError returns an error with category ResourceNotFound
func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, message, "resource not found: ")
}

// BadRequestError returns an error with category DataError
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, message, "bad request: ")
}

// NotSupportedError returns an error with category NotSupported
func NotSupportedError(err error, message string) error {
	return newError(CategoryNotSupported, err, message, "not supported: ")
}

// ConflictError returns an error with category DataConflict
func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, message, "conflict: ")
}

// DependencyFailureError returns an error with category DependencyFailure
func DependencyFailureError(err error, message string) error {
	return newError(CategoryDependencyFailure, err, message, "dependency failure: ")
}

// TimeoutError returns an error with category ConnectionTimeout
func TimeoutError(err error, message string) error {
	return newError(CategoryConnectionTimeout, err, message, "timeout: ")
}

// FromDomain classifies errors raised by the store, the adapters and the retry executor.
// Errors that already carry a category are returned unchanged.
func FromDomain(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	switch {
	case errors.As(err, &svcErr):
		return err
	case errors.Is(err, governance.ErrEntityNotFound):
		return ResourceNotFoundError(err, "entity not found")
	case errors.Is(err, governance.ErrProposalNotFound):
		return ResourceNotFoundError(err, "proposal not found")
	case governance.IsDecodeError(err):
		return BadRequestError(err, "source returned an undecodable record")
	case errors.Is(err, governance.ErrUnknownDecoder):
		return BadRequestError(err, "unknown decoder")
	case errors.Is(err, adapters.ErrNoAdapter):
		return NotSupportedError(err, "source type not supported")
	case errors.Is(err, retry.ErrFetchExhausted):
		return DependencyFailureError(err, "upstream provider unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return TimeoutError(err, "operation timed out")
	default:
		return GeneralError(err)
	}
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryDataError:
		return http.StatusBadRequest
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryNotSupported:
		return http.StatusNotImplemented
	case CategoryDataConflict:
		return http.StatusConflict
	case CategoryDependencyFailure:
		return http.StatusBadGateway
	case CategoryConnectionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode returns the process exit code used by the command line tools.
func (err ServiceError) ExitCode() int {
	switch err.Category {
	case CategoryDataError, CategoryResourceNotFound, CategoryNotSupported:
		return 2
	case CategoryDependencyFailure, CategoryConnectionTimeout:
		return 3
	default:
		return 1
	}
}
