// Package ledger is the durable local fallback for upload metadata: a JSON
// array of records on disk, newest first.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mirrorsplit/internal/domain/upload"
)

// Ledger appends upload records to a single JSON file. Appends are
// serialized and each one rewrites the file atomically.
type Ledger struct {
	mu   sync.Mutex
	path string
}

func New(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	return &Ledger{path: path}, nil
}

func (l *Ledger) Path() string { return l.path }

// Append puts r at the head of the ledger.
func (l *Ledger) Append(ctx context.Context, r *upload.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append([]entry{fromRecord(r)}, entries...)
	return l.write(entries)
}

// All returns every record, newest first.
func (l *Ledger) All(ctx context.Context) ([]*upload.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	entries, err := l.read()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]*upload.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record())
	}
	return out, nil
}

// Find returns the newest record with the given id.
func (l *Ledger) Find(ctx context.Context, id string) (*upload.Record, error) {
	all, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range all {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, upload.ErrUploadNotFound
}

func (l *Ledger) read() ([]entry, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("ledger: decode %s: %w", l.path, err)
	}
	return entries, nil
}

func (l *Ledger) write(entries []entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".uploads-*.json")
	if err != nil {
		return fmt.Errorf("ledger: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close temp: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// entry is the on-disk shape. Older files used several names for the
// storage key and the creation time; those are read but never written.
type entry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Price       *string   `json:"price"`
	PriceAmount *float64  `json:"priceAmount,omitempty"`
	Section     string    `json:"section"`
	FilePath    *string   `json:"filePath"`
	URL         *string   `json:"url"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Views       *int64    `json:"views,omitempty"`
	Plays       *int64    `json:"plays,omitempty"`

	LegacyFilePath  *string    `json:"file_path,omitempty"`
	LegacyFileName  *string    `json:"file_name,omitempty"`
	LegacyFilename  *string    `json:"filename,omitempty"`
	LegacyFileName2 *string    `json:"fileName,omitempty"`
	LegacyCreatedAt *time.Time `json:"created_at,omitempty"`
}

func fromRecord(r *upload.Record) entry {
	return entry{
		ID:          r.ID,
		Title:       r.Title,
		Artist:      r.Artist,
		Price:       r.Price,
		PriceAmount: r.PriceAmount,
		Section:     r.Section,
		FilePath:    r.FilePath,
		URL:         r.URL,
		ContentType: r.ContentType,
		Size:        r.Size,
		CreatedAt:   r.CreatedAt.UTC(),
		Views:       r.Views,
		Plays:       r.Plays,
	}
}

func (e entry) record() *upload.Record {
	r := &upload.Record{
		ID:          e.ID,
		Title:       e.Title,
		Artist:      e.Artist,
		Price:       e.Price,
		PriceAmount: e.PriceAmount,
		Section:     e.Section,
		FilePath:    firstNonEmpty(e.FilePath, e.LegacyFilePath, e.LegacyFileName, e.LegacyFilename, e.LegacyFileName2),
		URL:         e.URL,
		ContentType: e.ContentType,
		Size:        e.Size,
		CreatedAt:   e.CreatedAt,
		Views:       e.Views,
		Plays:       e.Plays,
	}
	if r.CreatedAt.IsZero() && e.LegacyCreatedAt != nil {
		r.CreatedAt = *e.LegacyCreatedAt
	}
	if r.Title == "" {
		r.Title = upload.DefaultTitle
	}
	if r.Artist == "" {
		r.Artist = upload.DefaultArtist
	}
	if r.Section == "" {
		r.Section = upload.DefaultSection
	}
	return r
}

func firstNonEmpty(values ...*string) *string {
	for _, v := range values {
		if v != nil && *v != "" {
			return v
		}
	}
	return nil
}
