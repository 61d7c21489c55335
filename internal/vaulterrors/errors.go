// Package vaulterrors is the error taxonomy shared by the store, the
// transfer engine, and the repo-files / repo-files-details services.
// It follows the sentinel-plus-typed-error pattern of
// internal/api/errors.go: a handful of errors.Is-comparable sentinels for
// conditions callers branch on, and typed errors for conditions that carry
// structured data.
package vaulterrors

import ("errors"
	"fmt"
	"strings")

// Sentinel errors. Compare with errors.Is, never by string.
var (// ErrAlreadyExists is returned when Downloadable.Exists reported true;
	// no transfer is recorded for this condition.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound mirrors RemoteApi's NotFound API error code.
	ErrNotFound = errors.New("not found")

	// ErrConflict mirrors RemoteApi's Conflict API error code.
	ErrConflict = errors.New("conflict")

	// ErrAborted is the user-visible reason for any transfer whose future
	// resolved because of Abort, or because an in-flight reader/writer was
	// dropped as a consequence of Abort.
	ErrAborted = errors.New("aborted")

	// ErrTransferNotFound is returned by Retry/Abort/Open when the id is
	// stale (already removed from TransfersState).
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrNotDirty is returned by the save-if-dirty path (autosave and
	// edit cancel) when there is no pending edit to persist.
	ErrNotDirty = errors.New("not dirty")

	// ErrInvalidState is returned by operations invoked against a details
	// entry that isn't in the state they require (e.g. Save while already
	// saving, Edit while deleting).
	ErrInvalidState = errors.New("invalid state")

	// ErrCannotSaveRoot is returned when Save resolves parent_path to the
	// repo root in a context where that isn't allowed.
	ErrCannotSaveRoot = errors.New("cannot save to root")

	// ErrCanceled is returned when an autosave hits a state that would
	// require a user prompt (autosave never prompts).
	ErrCanceled = errors.New("canceled")

	// ErrRepoLocked is returned when a repo's Cipher capability is
	// unavailable because the repo has not been unlocked.
	ErrRepoLocked = errors.New("repo locked"))

// LocalFileError wraps an adapter-side I/O failure (Uploadable/Downloadable
// touching the local filesystem). Retriable unless the adapter also
// returned NotRetriable for the same attempt.
type LocalFileError struct {
	Message string
	Err error
}

func (e *LocalFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("local file error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("local file error: %s", e.Message)
}

func (e *LocalFileError) Unwrap() error { return e.Err }

// NewLocalFileError builds a LocalFileError, grounded on the message-plus-
// wrapped-cause shape used throughout the file/transfer services.
func NewLocalFileError(message string, err error) *LocalFileError {
	return &LocalFileError{Message: message, Err: err}
}

// NotRetriableError is a terminal marker that, when returned from an
// adapter or the remote transport, clears Transfer.IsRetriable.
type NotRetriableError struct {
	Err error
}

func (e *NotRetriableError) Error() string {
	if e.Err == nil {
		return "not retriable"
	}
	return fmt.Sprintf("not retriable: %v", e.Err)
}

func (e *NotRetriableError) Unwrap() error { return e.Err }

// NotRetriable wraps err so that errors.As(..., *NotRetriableError) matches.
func NotRetriable(err error) error { return &NotRetriableError{Err: err} }

// ApiErrorCode enumerates the RemoteApi error codes a RemoteError can carry.
type ApiErrorCode string

const (ApiErrorNotFound ApiErrorCode = "NotFound"
	ApiErrorAlreadyExists ApiErrorCode = "AlreadyExists"
	ApiErrorConflict ApiErrorCode = "Conflict"
	ApiErrorUnknown ApiErrorCode = "Unknown")

// RemoteError carries a RemoteApi transport/API failure: either a
// structured API error code or a bare HTTP status.
type RemoteError struct {
	Code ApiErrorCode
	StatusCode int
	Message string
	Err error
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote error (%s, status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote error (%s, status %d)", e.Code, e.StatusCode)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets errors.Is(remoteErr, vaulterrors.ErrConflict) etc. work without
// callers needing to type-assert RemoteError first.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return e.Code == ApiErrorConflict
	case ErrNotFound:
		return e.Code == ApiErrorNotFound
	case ErrAlreadyExists:
		return e.Code == ApiErrorAlreadyExists
	}
	return false
}

// NewRemoteError classifies an HTTP status into an ApiErrorCode the way a
// thin reference RemoteApi client would.
func NewRemoteError(statusCode int, message string, err error) *RemoteError {
	code := ApiErrorUnknown
	switch statusCode {
	case 404:
		code = ApiErrorNotFound
	case 409:
		code = ApiErrorConflict
	case 412:
		code = ApiErrorConflict
	}
	return &RemoteError{Code: code, StatusCode: statusCode, Message: message, Err: err}
}

// DiscardChangesError is raised from edit_cancel's save_if_dirty attempt
// when the user chose "Discard" at a save-to-new-location prompt.
type DiscardChangesError struct {
	ShouldDestroy bool
}

func (e *DiscardChangesError) Error() string { return "discard changes" }

// IsRetriable classifies err the way the engine's autoretry policy does:
// structured matching first (NotRetriableError, Aborted, RemoteError 4xx
// other than throttling), falling back to tolerant substring matching only
// for errors that crossed an external boundary (e.g. raw net/http bodies)
// the way api.IsFileExistsError does for conflict detection.
func IsRetriable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrAborted) {
		return false
	}
	var nr *NotRetriableError
	if errors.As(err, &nr) {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		switch re.Code {
		case ApiErrorNotFound, ApiErrorAlreadyExists:
			return false
		}
		if re.StatusCode >= 400 && re.StatusCode < 500 && re.StatusCode != 429 {
			return false
		}
		return true
	}
	var lfe *LocalFileError
	if errors.As(err, &lfe) {
		return true
	}
	low := strings.ToLower(err.Error())
	for _, indicator := range []string{"permission denied", "no such file", "not enough space", "already exists"} {
		if strings.Contains(low, indicator) {
			return false
		}
	}
	return true
}
