package upload

import (
	"strings"
	"time"
)

const (
	DefaultTitle   = "Untitled"
	DefaultArtist  = "Unknown"
	DefaultSection = "unknown"
)

// DefaultSections is the category set used when none is configured.
var DefaultSections = []string{"for-sale", "streams", "instrumentals", DefaultSection}

// Record is the persisted metadata for one uploaded audio asset.
// FilePath is the storage key of the binary; URL is where clients fetch it.
type Record struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Artist      string    `gorm:"column:artist;not null" json:"artist"`
	Price       *string   `gorm:"column:price" json:"price"`
	PriceAmount *float64  `gorm:"column:price_amount" json:"priceAmount,omitempty"`
	Section     string    `gorm:"column:section;index;not null" json:"section"`
	FilePath    *string   `gorm:"column:file_path;index" json:"filePath"`
	URL         *string   `gorm:"column:url" json:"url"`
	ContentType string    `gorm:"column:content_type" json:"contentType,omitempty"`
	Size        int64     `gorm:"column:size" json:"size,omitempty"`
	CreatedAt   time.Time `gorm:"column:created_at;index" json:"createdAt"`
	Views       *int64    `gorm:"column:views" json:"views,omitempty"`
	Plays       *int64    `gorm:"column:plays" json:"plays,omitempty"`
}

func (Record) TableName() string { return "uploads" }

// ForSale reports whether the record carries a price.
func (r *Record) ForSale() bool {
	return r.Price != nil && strings.TrimSpace(*r.Price) != ""
}

// Patch holds the user-editable fields. Nil means "leave unchanged".
type Patch struct {
	Title   *string
	Artist  *string
	Price   *string
	Section *string
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Artist == nil && p.Price == nil && p.Section == nil
}

// RecoverInput backfills a record for a binary that has no metadata.
type RecoverInput struct {
	ID        string
	Title     string
	Artist    string
	Price     string
	Section   string
	FilePath  string
	URL       string
	CreatedAt *time.Time
}

// SaveResult is the outcome of a metadata save. A non-empty Warning means the
// record only reached the local fallback ledger.
type SaveResult struct {
	Record        *Record
	Warning       string
	MetadataError string
}

// Orphan is a stored binary with no metadata record pointing at it.
type Orphan struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// SectionCount is one row of the dashboard statistics.
type SectionCount struct {
	Section string
	Count   int64
}

// ReplayReport summarizes a ledger replay into the metadata store.
type ReplayReport struct {
	Scanned   int
	Recovered int
	Skipped   int
	Failed    int
}

const (
	EventView = "view"
	EventPlay = "play"
)

const (
	EventCreated = "upload_created"
	EventUpdated = "upload_updated"
	EventDeleted = "upload_deleted"
)
