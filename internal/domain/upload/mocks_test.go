package upload

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"mirrorsplit/internal/pkg/retry"
	"mirrorsplit/internal/storage"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Upsert(ctx context.Context, r *Record) (*Record, error) {
	args := m.Called(ctx, r)
	rec, _ := args.Get(0).(*Record)
	return rec, args.Error(1)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Record, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*Record)
	return rec, args.Error(1)
}

func (m *mockRepo) Update(ctx context.Context, id string, fields map[string]any) (*Record, error) {
	args := m.Called(ctx, id, fields)
	rec, _ := args.Get(0).(*Record)
	return rec, args.Error(1)
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) List(ctx context.Context, section string) ([]*Record, error) {
	args := m.Called(ctx, section)
	recs, _ := args.Get(0).([]*Record)
	return recs, args.Error(1)
}

func (m *mockRepo) Recent(ctx context.Context, limit int) ([]*Record, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]*Record)
	return recs, args.Error(1)
}

func (m *mockRepo) ListFilePaths(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	paths, _ := args.Get(0).([]string)
	return paths, args.Error(1)
}

func (m *mockRepo) Increment(ctx context.Context, id, column string) error {
	return m.Called(ctx, id, column).Error(0)
}

func (m *mockRepo) CountBySection(ctx context.Context) ([]SectionCount, error) {
	args := m.Called(ctx)
	rows, _ := args.Get(0).([]SectionCount)
	return rows, args.Error(1)
}

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Store(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	args := m.Called(ctx, key, r, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) URL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockStorage) List(ctx context.Context) ([]storage.Object, error) {
	args := m.Called(ctx)
	objs, _ := args.Get(0).([]storage.Object)
	return objs, args.Error(1)
}

func (m *mockStorage) Backend() string { return "mock" }

// memLedger is an in-memory FallbackStore; a non-nil err fails every append.
type memLedger struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (l *memLedger) Append(_ context.Context, r *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append([]*Record{r}, l.records...)
	return nil
}

func (l *memLedger) Find(_ context.Context, id string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrUploadNotFound
}

func (l *memLedger) All(_ context.Context) ([]*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Record(nil), l.records...), nil
}

type recordedEvent struct {
	Section string
	Type    string
}

type memPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *memPublisher) Publish(section, eventType string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Section: section, Type: eventType})
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return nil
}

var (
	errDBDown   = errors.New("connection refused")
	errDiskFull = errors.New("no space left on device")
	fixedNow    = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
)

func testRetryPolicy(s *sleepRecorder) retry.Policy {
	return retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(500 * time.Millisecond), Sleep: s.sleep}
}
