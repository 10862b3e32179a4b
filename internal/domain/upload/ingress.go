package upload

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	DefaultMaxFileSize = 50 * 1000 * 1000 // 50 MB
	formMemory         = 32 << 20
	formOverhead       = 1 << 20
)

// fileFields are the accepted multipart part names, in lookup order.
var fileFields = []string{"file", "audio"}

// DefaultAllowedMimeTypes defines which audio types are accepted.
var DefaultAllowedMimeTypes = []string{
	"audio/mpeg",
	"audio/mp3",
	"audio/wav",
	"audio/x-wav",
	"audio/wave",
	"audio/mp4",
	"audio/x-m4a",
	"audio/aac",
	"audio/ogg",
	"audio/flac",
	"audio/webm",
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// UploadRequest is a validated submission, ready for the storage adapter.
type UploadRequest struct {
	ID           string
	Resubmission bool
	Title        string
	Artist       string
	Price        *string
	Section      string
	FileName     string
	ContentType  string
	Ext          string
	Data         []byte
}

// Key is the storage key derived from the id and extension.
func (r *UploadRequest) Key() string {
	return r.ID + r.Ext
}

// Record builds the metadata for a binary stored under key.
func (r *UploadRequest) Record(key, url string, now time.Time) *Record {
	return &Record{
		ID:          r.ID,
		Title:       r.Title,
		Artist:      r.Artist,
		Price:       r.Price,
		PriceAmount: parsePriceAmount(r.Price),
		Section:     r.Section,
		FilePath:    &key,
		URL:         &url,
		ContentType: r.ContentType,
		Size:        int64(len(r.Data)),
		CreatedAt:   now.UTC(),
	}
}

// Policy holds the ingress constraints.
type Policy struct {
	MaxSize int64
	// StrictSections rejects sections outside the configured set. Otherwise
	// any section is accepted as submitted.
	StrictSections   bool
	allowedMimeTypes map[string]bool
	sections         map[string]bool
}

func NewPolicy(maxSize int64, mimeTypes, sections []string) *Policy {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if len(mimeTypes) == 0 {
		mimeTypes = DefaultAllowedMimeTypes
	}
	if len(sections) == 0 {
		sections = DefaultSections
	}
	return &Policy{
		MaxSize:          maxSize,
		allowedMimeTypes: toSet(mimeTypes),
		sections:         toSet(sections),
	}
}

// ParseRequest reads a multipart upload and validates it. It performs no
// storage or metadata I/O.
func (p *Policy) ParseRequest(w http.ResponseWriter, r *http.Request) (*UploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, p.MaxSize+formOverhead)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return nil, invalid("size", ErrFileTooLarge)
		}
		return nil, invalid("form", ErrInvalidForm)
	}
	defer r.MultipartForm.RemoveAll()

	var fileHeader *multipart.FileHeader
	for _, name := range fileFields {
		if files := r.MultipartForm.File[name]; len(files) > 0 {
			fileHeader = files[0]
			break
		}
	}
	if fileHeader == nil {
		return nil, invalid("file", ErrMissingFile)
	}

	return p.Validate(fileHeader, r.MultipartForm.Value)
}

// Validate checks one file part plus its text fields.
func (p *Policy) Validate(fileHeader *multipart.FileHeader, values map[string][]string) (*UploadRequest, error) {
	if fileHeader == nil {
		return nil, invalid("file", ErrMissingFile)
	}
	if fileHeader.Size == 0 {
		return nil, invalid("file", ErrEmptyFile)
	}
	if fileHeader.Size > p.MaxSize {
		return nil, invalid("size", ErrFileTooLarge)
	}

	section, err := p.NormalizeSection(formValue(values, "section"))
	if err != nil {
		return nil, err
	}

	req := &UploadRequest{Section: section}
	if raw := formValue(values, "id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, invalid("id", ErrInvalidID)
		}
		req.ID = id.String()
		req.Resubmission = true
	} else {
		req.ID = uuid.NewString()
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, invalid("file", ErrMissingFile)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, p.MaxSize+1))
	if err != nil {
		return nil, invalid("file", ErrMissingFile)
	}
	if int64(len(data)) > p.MaxSize {
		return nil, invalid("size", ErrFileTooLarge)
	}
	if len(data) == 0 {
		return nil, invalid("file", ErrEmptyFile)
	}

	contentType := detectContentType(fileHeader.Header.Get("Content-Type"), data)
	if !p.allowedMimeTypes[contentType] {
		return nil, invalid("type", ErrInvalidMimeType)
	}

	req.Data = data
	req.ContentType = contentType
	req.FileName = fileHeader.Filename
	req.Ext = inferExt(fileHeader.Filename, contentType)

	req.Title = formValue(values, "title")
	req.Artist = formValue(values, "artist")
	if req.Title == "" || req.Artist == "" {
		title, artist := readTags(data)
		if req.Title == "" {
			req.Title = title
		}
		if req.Artist == "" {
			req.Artist = artist
		}
	}
	if req.Title == "" {
		req.Title = DefaultTitle
	}
	if req.Artist == "" {
		req.Artist = DefaultArtist
	}

	if price := formValue(values, "price"); price != "" {
		req.Price = &price
	}

	return req, nil
}

// NormalizeSection lower-cases and defaults the section. Values outside the
// configured set are only rejected in strict mode.
func (p *Policy) NormalizeSection(section string) (string, error) {
	section = strings.ToLower(strings.TrimSpace(section))
	if section == "" {
		return DefaultSection, nil
	}
	if p.StrictSections && !p.sections[section] {
		return "", invalid("section", ErrInvalidSection)
	}
	return section, nil
}

// Sections returns the configured section set.
func (p *Policy) Sections() []string {
	out := make([]string, 0, len(p.sections))
	for s := range p.sections {
		out = append(out, s)
	}
	return out
}

func formValue(values map[string][]string, key string) string {
	if v := values[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// detectContentType trusts the declared part type unless it is missing or
// generic, in which case the content is sniffed.
func detectContentType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return strings.ToLower(mt)
		}
	}
	mt, _, err := mime.ParseMediaType(mimetype.Detect(data).String())
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

func inferExt(filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if extPattern.MatchString(ext) {
		return ext
	}
	return mimeToExt(contentType)
}

func mimeToExt(mime string) string {
	switch mime {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/aac":
		return ".aac"
	case "audio/ogg":
		return ".ogg"
	case "audio/flac":
		return ".flac"
	case "audio/webm":
		return ".webm"
	default:
		return ".bin"
	}
}

// readTags pulls title and artist from embedded ID3/MP4/FLAC/Ogg tags.
func readTags(data []byte) (title, artist string) {
	defer func() {
		if recover() != nil {
			title, artist = "", ""
		}
	}()

	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return "", ""
	}
	artist = m.Artist()
	if albumArtist := m.AlbumArtist(); artist == "" && albumArtist != "" {
		artist = albumArtist
	}
	return strings.TrimSpace(m.Title()), strings.TrimSpace(artist)
}

// parsePriceAmount keeps digits and dots of the submitted price and parses
// the result; anything unparsable means no numeric price.
func parsePriceAmount(price *string) *float64 {
	if price == nil {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, *price)
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToLower(strings.TrimSpace(item))] = true
	}
	return set
}
