package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a skillminer error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION" // 400 (usage error, batch continues)
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrFileNotFound      ErrorCode = "FILE_NOT_FOUND"     // 404
	ErrConflict          ErrorCode = "CONFLICT"           // 409
	ErrChecksumMismatch  ErrorCode = "CHECKSUM_MISMATCH"  // 422
	ErrBundleInvalid     ErrorCode = "BUNDLE_INVALID"     // 422
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrManifestCorrupt   ErrorCode = "MANIFEST_CORRUPT"   // 500 (fatal, abort before mutation)
	ErrInternal          ErrorCode = "INTERNAL"           // 500
	ErrCollaborator      ErrorCode = "COLLABORATOR"       // 502
)

// SkillError represents a structured error with code, status, and details.
type SkillError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *SkillError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *SkillError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SkillError {
	return &SkillError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidTransition creates a 400 error for a lifecycle transition the state machine forbids.
func NewInvalidTransition(slug, from, to string) *SkillError {
	return &SkillError{
		Code:    ErrInvalidTransition,
		Status:  400,
		Message: fmt.Sprintf("cannot move %q from %s to %s", slug, from, to),
		Details: map[string]any{"slug": slug, "from": from, "to": to},
	}
}

// NewNotFound creates a 404 error for when a skill cannot be found.
func NewNotFound(slug string) *SkillError {
	return &SkillError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("skill not found: %s", slug),
		Details: map[string]any{"slug": slug},
	}
}

// NewFileNotFound creates a 404 error for a missing file.
func NewFileNotFound(path string) *SkillError {
	return &SkillError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for slug collisions and similar conflicts.
func NewConflict(msg string) *SkillError {
	return &SkillError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewChecksumMismatch creates a 422 error listing every file whose checksum did not match.
func NewChecksumMismatch(files []string) *SkillError {
	return &SkillError{
		Code:    ErrChecksumMismatch,
		Status:  422,
		Message: fmt.Sprintf("checksum mismatch in %d file(s): %v", len(files), files),
		Details: map[string]any{"files": files},
	}
}

// NewBundleInvalid creates a 422 error for a structurally invalid bundle.
func NewBundleInvalid(problems []string) *SkillError {
	return &SkillError{
		Code:    ErrBundleInvalid,
		Status:  422,
		Message: fmt.Sprintf("bundle is invalid: %v", problems),
		Details: map[string]any{"problems": problems},
	}
}

// NewCancelled creates a 499 error for an operation interrupted by cancellation.
func NewCancelled(op string) *SkillError {
	return &SkillError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewManifestCorrupt creates a 500 error for a manifest that exists but cannot be read.
func NewManifestCorrupt(path string, err error) *SkillError {
	return &SkillError{
		Code:    ErrManifestCorrupt,
		Status:  500,
		Message: fmt.Sprintf("manifest %s is unreadable: %v", path, err),
		Details: map[string]any{"path": path},
		cause:   err,
	}
}

// NewCollaborator creates a 502 error for an AI collaborator failure that exhausted retries.
func NewCollaborator(op string, err error) *SkillError {
	return &SkillError{
		Code:    ErrCollaborator,
		Status:  502,
		Message: fmt.Sprintf("%s failed: %v", op, err),
		Details: map[string]any{"operation": op},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *SkillError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SkillError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a SkillError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SkillError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the SkillError in err's chain, if any.
func As(err error) (*SkillError, bool) {
	var sErr *SkillError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
