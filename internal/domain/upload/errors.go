package upload

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUploadNotFound    = errors.New("upload not found")
	ErrNoFieldsToUpdate  = errors.New("no valid fields to update")
	ErrNotConfigured     = errors.New("metadata store not configured")
	ErrSearchUnavailable = errors.New("search index not available")

	ErrMissingFile      = errors.New("no file provided")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrInvalidMimeType  = errors.New("file type is not allowed")
	ErrEmptyFile        = errors.New("file is empty")
	ErrInvalidSection   = errors.New("section is not allowed")
	ErrInvalidID        = errors.New("upload id must be a UUID")
	ErrMissingID        = errors.New("upload id is required")
	ErrInvalidForm      = errors.New("request must be multipart/form-data")
	ErrInvalidEventType = errors.New("event type must be view or play")
)

const (
	defaultPersistHint = "Please check database connection and table schema"
	ledgerPersistHint  = "Please check that the local ledger file is writable and contains valid JSON"
)

// ValidationError rejects a request before any storage or metadata I/O.
type ValidationError struct {
	Constraint string
	Err        error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(constraint string, err error) *ValidationError {
	return &ValidationError{Constraint: constraint, Err: err}
}

// MetadataTransientError is one failed upsert attempt; the retry policy may try again.
type MetadataTransientError struct {
	Attempt int
	Err     error
}

func (e *MetadataTransientError) Error() string {
	return fmt.Sprintf("metadata attempt %d: %v", e.Attempt, e.Err)
}

func (e *MetadataTransientError) Unwrap() error { return e.Err }

// MetadataPersistError means the record could not be stored anywhere.
// Code and Hint come from the database driver when it provides them.
type MetadataPersistError struct {
	Message string
	Code    string
	Hint    string
	Err     error
}

func (e *MetadataPersistError) Error() string {
	return "metadata save failed: " + e.Message
}

func (e *MetadataPersistError) Unwrap() error { return e.Err }

func newPersistError(err error) *MetadataPersistError {
	cause := err
	var terr *MetadataTransientError
	if errors.As(err, &terr) {
		cause = terr.Err
	}

	perr := &MetadataPersistError{Message: cause.Error(), Hint: defaultPersistHint, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(cause, &pgErr) {
		perr.Message = pgErr.Message
		perr.Code = pgErr.Code
		if pgErr.Hint != "" {
			perr.Hint = pgErr.Hint
		}
	}
	return perr
}

// causeMessage strips the attempt wrapper for user-facing diagnostics.
func causeMessage(err error) string {
	var terr *MetadataTransientError
	if errors.As(err, &terr) {
		return terr.Err.Error()
	}
	return err.Error()
}
