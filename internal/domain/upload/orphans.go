package upload

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FindOrphans lists stored objects that no metadata record points at.
// It never mutates either store.
func (s *Service) FindOrphans(ctx context.Context) ([]Orphan, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}

	objects, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	paths, err := s.repo.ListFilePaths(ctx)
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]struct{}, len(paths)*2)
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		referenced[p] = struct{}{}
		referenced[path.Base(p)] = struct{}{}
	}

	orphans := make([]Orphan, 0)
	for _, obj := range objects {
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		orphans = append(orphans, Orphan{Name: obj.Key, Size: obj.Size, CreatedAt: obj.CreatedAt})
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Name < orphans[j].Name })
	return orphans, nil
}

// RecoverMetadata upserts a record for an existing binary. It retries like an
// upload but never falls back to the ledger.
func (s *Service) RecoverMetadata(ctx context.Context, in RecoverInput) (*Record, error) {
	if s.repo == nil {
		return nil, ErrNotConfigured
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, invalid("id", ErrMissingID)
	}
	section, err := s.policy.NormalizeSection(in.Section)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        id,
		Title:     orDefault(in.Title, DefaultTitle),
		Artist:    orDefault(in.Artist, DefaultArtist),
		Section:   section,
		CreatedAt: s.now().UTC(),
	}
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		rec.CreatedAt = in.CreatedAt.UTC()
	}
	if price := strings.TrimSpace(in.Price); price != "" {
		rec.Price = &price
		rec.PriceAmount = parsePriceAmount(&price)
	}

	filePath := strings.TrimSpace(in.FilePath)
	url := strings.TrimSpace(in.URL)
	if filePath != "" {
		rec.FilePath = &filePath
		if url == "" {
			derived, err := s.store.URL(ctx, filePath)
			if err != nil {
				s.log.Warn("could not derive url for recovered record", zap.String("key", filePath), zap.Error(err))
			} else {
				url = derived
			}
		}
	}
	if url != "" {
		rec.URL = &url
	}

	saved, err := s.upsertWithRetry(ctx, rec)
	if err != nil {
		s.log.Error("metadata recovery failed", zap.String("id", id), zap.Error(err))
		return nil, newPersistError(err)
	}
	s.log.Info("metadata recovered", zap.String("id", id), zap.Stringp("file_path", saved.FilePath))
	s.afterWrite(saved, EventCreated)
	return saved, nil
}

// ReplayLedger copies ledger records missing from the metadata store into it.
// The ledger itself is left untouched.
func (s *Service) ReplayLedger(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport
	if s.repo == nil || s.fallback == nil {
		return report, ErrNotConfigured
	}

	records, err := s.fallback.All(ctx)
	if err != nil {
		return report, err
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.ID == "" || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		report.Scanned++

		_, err := s.repo.GetByID(ctx, rec.ID)
		if err == nil {
			report.Skipped++
			continue
		}
		if !errors.Is(err, ErrUploadNotFound) {
			report.Failed++
			s.log.Warn("ledger replay lookup failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}

		saved, err := s.upsertWithRetry(ctx, rec)
		if err != nil {
			report.Failed++
			s.log.Warn("ledger replay upsert failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		report.Recovered++
		s.afterWrite(saved, EventCreated)
	}
	return report, nil
}
