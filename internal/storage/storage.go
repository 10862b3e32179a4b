// Package storage persists upload binaries under generated keys and hands
// back URLs clients can fetch them from. Backends are interchangeable behind
// the Storage interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

const maxKeyLength = 512

var (
	ErrObjectExists = errors.New("object already exists")
	ErrNotFound     = errors.New("object not found")
	ErrEmptyKey     = errors.New("key cannot be empty")
	ErrInvalidKey   = errors.New("key contains invalid characters")
)

// Object describes a stored binary as seen by a listing.
type Object struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

type Storage interface {
	// Store writes r under key. An existing key is never overwritten; the
	// call fails with ErrObjectExists instead.
	Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// URL returns a resolvable address for an existing key.
	URL(ctx context.Context, key string) (string, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every object in the namespace.
	List(ctx context.Context) ([]Object, error)
	Backend() string
}

// Error wraps a backend failure with the operation and key involved.
type Error struct {
	Op  string // write, delete, list, url
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ValidateKey rejects keys that could escape the namespace. Keys are flat:
// no separators, no dot-prefixed names.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, maxKeyLength)
	}
	if strings.HasPrefix(key, ".") || strings.ContainsAny(key, "/\\\x00") {
		return ErrInvalidKey
	}
	return nil
}
