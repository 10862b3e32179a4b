package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"mirrorsplit/internal/metrics"
	"mirrorsplit/internal/pkg/retry"
	"mirrorsplit/internal/storage"
)

const (
	FallbackWarning    = "File uploaded successfully, but saved to local backup only"
	FallbackSuggestion = "Database may be temporarily unavailable. Metadata saved locally."

	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
	DefaultSearchLimit = 20
)

// FallbackStore is the durable local ledger used when the metadata store is
// unavailable, and as the primary store when none is configured.
type FallbackStore interface {
	Append(ctx context.Context, r *Record) error
	Find(ctx context.Context, id string) (*Record, error)
	All(ctx context.Context) ([]*Record, error)
}

// SearchIndex is a full-text index over title, artist and section.
type SearchIndex interface {
	Index(r *Record) error
	Delete(id string) error
	Search(query string, limit int) ([]string, error)
	Rebuild(records []*Record) error
}

// Publisher fans out change events to live subscribers of a section.
type Publisher interface {
	Publish(section, eventType string, payload any)
}

type Option func(*Service)

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.retry = p }
}

func WithSearchIndex(idx SearchIndex) Option {
	return func(s *Service) { s.index = idx }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithPolicy(p *Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service runs the upload workflow: storage write, metadata upsert with
// retry, ledger fallback and compensating cleanup.
type Service struct {
	repo      Repository
	store     storage.Storage
	fallback  FallbackStore
	index     SearchIndex
	publisher Publisher
	policy    *Policy
	retry     retry.Policy
	now       func() time.Time
	log       *zap.Logger
}

// NewService wires the workflow. A nil repo runs in local-only mode with the
// fallback store as the primary metadata store.
func NewService(repo Repository, store storage.Storage, fallback FallbackStore, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		repo:     repo,
		store:    store,
		fallback: fallback,
		policy:   NewPolicy(0, nil, nil),
		retry:    retry.Default(),
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() *Policy { return s.policy }

// HasStore reports whether a metadata store is configured.
func (s *Service) HasStore() bool { return s.repo != nil }

func (s *Service) Storage() storage.Storage { return s.store }

// Upload writes the binary and then its metadata.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*SaveResult, error) {
	key := req.Key()
	log := s.log.With(zap.String("id", req.ID), zap.String("key", key))

	stored := true
	url, err := s.store.Store(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data)), req.ContentType)
	if err != nil && req.Resubmission && errors.Is(err, storage.ErrObjectExists) {
		log.Info("reusing stored binary for resubmitted upload")
		stored = false
		url, err = s.store.URL(ctx, key)
	}
	if err != nil {
		metrics.StorageFailures.WithLabelValues("write").Inc()
		metrics.UploadsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		log.Error("storage write failed", zap.Error(err))
		return nil, err
	}

	cleanupKey := ""
	if stored {
		cleanupKey = key
	}
	res, err := s.saveMetadata(ctx, req.Record(key, url, s.now()), cleanupKey)
	switch {
	case err != nil:
		metrics.UploadsTotal.WithLabelValues(metrics.ResultFailed).Inc()
	case res.Warning != "":
		metrics.UploadsTotal.WithLabelValues(metrics.ResultFallback).Inc()
	default:
		metrics.UploadsTotal.WithLabelValues(metrics.ResultOK).Inc()
	}
	return res, err
}

// SaveMetadata persists rec without touching storage on failure.
func (s *Service) SaveMetadata(ctx context.Context, rec *Record) (*SaveResult, error) {
	return s.saveMetadata(ctx, rec, "")
}

// saveMetadata upserts rec with retry, falls back to the ledger, and deletes
// cleanupKey from storage when both fail.
func (s *Service) saveMetadata(ctx context.Context, rec *Record, cleanupKey string) (*SaveResult, error) {
	log := s.log.With(zap.String("id", rec.ID))

	if s.repo == nil {
		if err := s.appendLedger(ctx, rec); err != nil {
			s.cleanup(ctx, cleanupKey)
			perr := newPersistError(err)
			perr.Hint = ledgerPersistHint
			return nil, perr
		}
		s.afterWrite(rec, EventCreated)
		return &SaveResult{Record: rec}, nil
	}

	saved, err := s.upsertWithRetry(ctx, rec)
	if err == nil {
		s.afterWrite(saved, EventCreated)
		return &SaveResult{Record: saved}, nil
	}
	log.Warn("metadata store exhausted, falling back to ledger", zap.Error(err))

	if ferr := s.appendLedger(ctx, rec); ferr != nil {
		log.Error("ledger fallback failed", zap.Error(ferr))
		s.cleanup(ctx, cleanupKey)
		return nil, newPersistError(err)
	}
	metrics.LedgerFallbacks.Inc()
	s.afterWrite(rec, EventCreated)

	return &SaveResult{
		Record:        rec,
		Warning:       FallbackWarning,
		MetadataError: causeMessage(err),
	}, nil
}

func (s *Service) upsertWithRetry(ctx context.Context, rec *Record) (*Record, error) {
	var saved *Record
	err := s.retry.Do(ctx, func(ctx context.Context, a retry.Attempt) error {
		out, err := s.repo.Upsert(ctx, rec)
		if err != nil {
			metrics.MetadataAttempts.WithLabelValues(metrics.OutcomeFailure).Inc()
			s.log.Warn("metadata upsert failed",
				zap.String("id", rec.ID),
				zap.Int("attempt", a.Index+1),
				zap.Bool("last", a.Last),
				zap.Error(err),
			)
			return &MetadataTransientError{Attempt: a.Index + 1, Err: err}
		}
		metrics.MetadataAttempts.WithLabelValues(metrics.OutcomeSuccess).Inc()
		saved = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Service) appendLedger(ctx context.Context, rec *Record) error {
	if s.fallback == nil {
		return errors.New("local ledger not configured")
	}
	return s.fallback.Append(ctx, rec)
}

func (s *Service) cleanup(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		metrics.StorageFailures.WithLabelValues("delete").Inc()
		s.log.Error("cleanup of orphaned binary failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.log.Info("removed binary after metadata failure", zap.String("key", key))
}

func (s *Service) afterWrite(rec *Record, event string) {
	if s.index != nil {
		if err := s.index.Index(rec); err != nil {
			s.log.Warn("search index update failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	s.publish(rec.Section, event, rec)
}

func (s *Service) publish(section, event string, payload any) {
	if s.publisher != nil {
		s.publisher.Publish(section, event, payload)
	}
}

// UpdateMetadata applies the non-nil fields of p.
func (s *Service) UpdateMetadata(ctx context.Context, id string, p Patch) (*Record, error) {
	if p.IsEmpty() {
		return nil, ErrNoFieldsToUpdate
	}
	if s.repo == nil {
		return nil, ErrNotConfigured
	}

	fields := make(map[string]any, 5)
	if p.Title != nil {
		fields["title"] = orDefault(*p.Title, DefaultTitle)
	}
	if p.Artist != nil {
		fields["artist"] = orDefault(*p.Artist, DefaultArtist)
	}
	if p.Price != nil {
		price := strings.TrimSpace(*p.Price)
		if price == "" {
			fields["price"] = nil
			fields["price_amount"] = nil
		} else {
			fields["price"] = price
			fields["price_amount"] = parsePriceAmount(&price)
		}
	}
	if p.Section != nil {
		section, err := s.policy.NormalizeSection(*p.Section)
		if err != nil {
			return nil, err
		}
		fields["section"] = section
	}

	rec, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	s.afterWrite(rec, EventUpdated)
	return rec, nil
}

// DeleteMetadata removes the binary (best effort) and then the record.
func (s *Service) DeleteMetadata(ctx context.Context, id string) error {
	if s.repo == nil {
		return ErrNotConfigured
	}

	section := ""
	rec, err := s.repo.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrUploadNotFound):
		s.log.Info("delete of unknown upload", zap.String("id", id))
	case err != nil:
		return err
	default:
		section = rec.Section
		if rec.FilePath != nil && *rec.FilePath != "" {
			if derr := s.store.Delete(ctx, *rec.FilePath); derr != nil {
				metrics.StorageFailures.WithLabelValues("delete").Inc()
				s.log.Warn("storage delete failed", zap.String("id", id), zap.String("key", *rec.FilePath), zap.Error(derr))
			}
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Delete(id); err != nil {
			s.log.Warn("search index delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	s.publish(section, EventDeleted, map[string]string{"id": id})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	if s.repo == nil {
		return s.fromLedger(ctx, id)
	}
	return s.repo.GetByID(ctx, id)
}

// List returns records newest first, optionally filtered by section.
func (s *Service) List(ctx context.Context, section string) ([]*Record, error) {
	section = strings.ToLower(strings.TrimSpace(section))
	if s.repo != nil {
		return s.repo.List(ctx, section)
	}

	all, err := s.ledgerRecords(ctx)
	if err != nil {
		return nil, err
	}
	if section == "" {
		return all, nil
	}
	out := make([]*Record, 0, len(all))
	for _, r := range all {
		if r.Section == section {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]*Record, error) {
	limit = clampLimit(limit, DefaultRecentLimit)
	if s.repo != nil {
		return s.repo.Recent(ctx, limit)
	}

	all, err := s.ledgerRecords(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// NormalizeEvent maps an empty kind to a view and rejects anything else
// that is not a view or play.
func NormalizeEvent(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", EventView:
		return EventView, nil
	case EventPlay:
		return EventPlay, nil
	default:
		return "", invalid("type", ErrInvalidEventType)
	}
}

// TrackEvent increments the view or play counter. It reports false when no
// metadata store is configured and the event was not recorded.
func (s *Service) TrackEvent(ctx context.Context, id, kind string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, invalid("id", ErrMissingID)
	}
	kind, err := NormalizeEvent(kind)
	if err != nil {
		return false, err
	}
	if s.repo == nil {
		return false, nil
	}

	column := "views"
	if kind == EventPlay {
		column = "plays"
	}
	if err := s.repo.Increment(ctx, id, column); err != nil {
		return false, err
	}
	metrics.TrackedEvents.WithLabelValues(kind).Inc()
	return true, nil
}

// Stats returns the view and play counters of one record.
func (s *Service) Stats(ctx context.Context, id string) (views, plays int64, err error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	if rec.Views != nil {
		views = *rec.Views
	}
	if rec.Plays != nil {
		plays = *rec.Plays
	}
	return views, plays, nil
}

// Search resolves a full-text query to records, in relevance order.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*Record, error) {
	if s.index == nil {
		return nil, ErrSearchUnavailable
	}
	ids, err := s.index.Search(query, clampLimit(limit, DefaultSearchLimit))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrUploadNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SectionStats counts records per section.
func (s *Service) SectionStats(ctx context.Context) ([]SectionCount, error) {
	if s.repo != nil {
		return s.repo.CountBySection(ctx)
	}

	all, err := s.ledgerRecords(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, r := range all {
		counts[r.Section]++
	}
	out := make([]SectionCount, 0, len(counts))
	for section, n := range counts {
		out = append(out, SectionCount{Section: section, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Section < out[j].Section })
	return out, nil
}

// Reindex rebuilds the search index from the current records.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, ErrSearchUnavailable
	}
	records, err := s.List(ctx, "")
	if err != nil {
		return 0, err
	}
	if err := s.index.Rebuild(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Service) fromLedger(ctx context.Context, id string) (*Record, error) {
	if s.fallback == nil {
		return nil, ErrNotConfigured
	}
	return s.fallback.Find(ctx, id)
}

func (s *Service) ledgerRecords(ctx context.Context) ([]*Record, error) {
	if s.fallback == nil {
		return nil, ErrNotConfigured
	}
	all, err := s.fallback.All(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
