package upload

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	// Upsert inserts or replaces the record keyed by ID and returns the stored row.
	// CreatedAt and the counters of an existing row are kept.
	Upsert(ctx context.Context, r *Record) (*Record, error)
	GetByID(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, fields map[string]any) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, section string) ([]*Record, error)
	Recent(ctx context.Context, limit int) ([]*Record, error)
	ListFilePaths(ctx context.Context) ([]string, error)
	Increment(ctx context.Context, id, column string) error
	CountBySection(ctx context.Context) ([]SectionCount, error)
}

// upsertColumns are replaced when an existing id is written again.
var upsertColumns = []string{
	"title", "artist", "price", "price_amount", "section",
	"file_path", "url", "content_type", "size",
}

var counterColumns = map[string]bool{"views": true, "plays": true}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Migrate creates or updates the uploads table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

func (r *repository) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(rec).Error
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, rec.ID)
}

func (r *repository) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) Update(ctx context.Context, id string, fields map[string]any) (*Record, error) {
	res := r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUploadNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Record{}).Error
}

func (r *repository) List(ctx context.Context, section string) ([]*Record, error) {
	var records []*Record
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if section != "" {
		q = q.Where("section = ?", section)
	}
	err := q.Find(&records).Error
	return records, err
}

func (r *repository) Recent(ctx context.Context, limit int) ([]*Record, error) {
	var records []*Record
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error
	return records, err
}

func (r *repository) ListFilePaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).Model(&Record{}).
		Where("file_path IS NOT NULL").
		Pluck("file_path", &paths).Error
	return paths, err
}

// Increment bumps a counter in a single statement so concurrent events are not lost.
func (r *repository) Increment(ctx context.Context, id, column string) error {
	if !counterColumns[column] {
		return ErrInvalidEventType
	}
	res := r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ?", id).
		UpdateColumn(column, gorm.Expr("COALESCE("+column+", 0) + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUploadNotFound
	}
	return nil
}

func (r *repository) CountBySection(ctx context.Context) ([]SectionCount, error) {
	var rows []SectionCount
	err := r.db.WithContext(ctx).Model(&Record{}).
		Select("section, COUNT(*) AS count").
		Group("section").
		Order("section").
		Scan(&rows).Error
	return rows, err
}
