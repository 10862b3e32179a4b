package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tempDirName = ".tmp"

// Local keeps binaries in a single directory and serves them under a URL
// prefix (the router mounts the directory there).
type Local struct {
	root      string
	urlPrefix string
	fileMode  os.FileMode
	dirMode   os.FileMode
}

func NewLocal(root, urlPrefix string) (*Local, error) {
	root = filepath.Clean(root)
	l := &Local{
		root:      root,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		fileMode:  0o644,
		dirMode:   0o755,
	}
	if err := os.MkdirAll(filepath.Join(root, tempDirName), l.dirMode); err != nil {
		return nil, fmt.Errorf("creating uploads directory: %w", err)
	}
	return l, nil
}

func (l *Local) Backend() string { return "local" }

func (l *Local) Root() string { return l.root }

// Store writes to a temp file first and commits with a hard link, so the
// object either appears complete or not at all, and an existing key makes
// the link fail instead of being replaced.
func (l *Local) Store(ctx context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}

	dst := filepath.Join(l.root, key)
	if _, err := os.Stat(dst); err == nil {
		return "", &Error{Op: "write", Key: key, Err: ErrObjectExists}
	}

	tmpPath := filepath.Join(l.root, tempDirName, uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, l.fileMode)
	if err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &Error{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &Error{Op: "write", Key: key, Err: err}
	}

	if err := os.Link(tmpPath, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", &Error{Op: "write", Key: key, Err: ErrObjectExists}
		}
		return "", &Error{Op: "write", Key: key, Err: err}
	}

	return l.urlFor(key), nil
}

func (l *Local) URL(_ context.Context, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", &Error{Op: "url", Key: key, Err: err}
	}
	if _, err := os.Stat(filepath.Join(l.root, key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &Error{Op: "url", Key: key, Err: ErrNotFound}
		}
		return "", &Error{Op: "url", Key: key, Err: err}
	}
	return l.urlFor(key), nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	if err := os.Remove(filepath.Join(l.root, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (l *Local) List(ctx context.Context) ([]Object, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, &Error{Op: "list", Err: err}
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "list", Err: err}
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		objects = append(objects, Object{
			Key:       e.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	return objects, nil
}

func (l *Local) urlFor(key string) string {
	return l.urlPrefix + "/" + key
}

// ctxReader stops a copy once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
