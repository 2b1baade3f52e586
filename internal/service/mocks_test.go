package service

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/vault-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockSessionRepository mocks the SessionRepository interface
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id int64) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) List(ctx context.Context, limit int, offset int) ([]domain.Session, error) {
	args := m.Called(ctx, limit, offset)
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockSessionRepository) Rename(ctx context.Context, id int64, name string) error {
	args := m.Called(ctx, id, name)
	return args.Error(0)
}

func (m *MockSessionRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockMessageRepository mocks the MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) LoadHistory(ctx context.Context, sessionID int64) ([]domain.StoredMessage, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StoredMessage), args.Error(1)
}

func (m *MockMessageRepository) AppendMessage(ctx context.Context, sessionID int64, message domain.StoredMessage) error {
	args := m.Called(ctx, sessionID, message)
	return args.Error(0)
}

// MockHistoryCache mocks the HistoryCache interface
type MockHistoryCache struct {
	mock.Mock
}

func (m *MockHistoryCache) Get(ctx context.Context, sessionID int64) ([]domain.StoredMessage, bool) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]domain.StoredMessage), args.Bool(1)
}

func (m *MockHistoryCache) Set(ctx context.Context, sessionID int64, history []domain.StoredMessage) error {
	args := m.Called(ctx, sessionID, history)
	return args.Error(0)
}

func (m *MockHistoryCache) Invalidate(ctx context.Context, sessionID int64) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// MockTurnLimiter mocks the TurnLimiter interface
type MockTurnLimiter struct {
	mock.Mock
}

func (m *MockTurnLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Int(1), args.Get(2).(time.Time), args.Error(3)
}

// fakeStream is driven by the test. Close does not close the event channel,
// so anything sent afterwards models a stale socket.
type fakeStream struct {
	id     string
	events chan domain.StreamEvent

	mu     sync.Mutex
	closes int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		id:     uuid.New().String(),
		events: make(chan domain.StreamEvent, 16),
	}
}

func (f *fakeStream) ID() string                         { return f.id }
func (f *fakeStream) Events() <-chan domain.StreamEvent { return f.events }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeOpener hands out queued streams in order and records every frame
type fakeOpener struct {
	mu      sync.Mutex
	streams []*fakeStream
	frames  []domain.RequestFrame
	err     error
	gate    chan struct{} // when set, Open waits for it or for ctx
}

func (f *fakeOpener) push(s *fakeStream) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, s)
}

func (f *fakeOpener) Open(ctx context.Context, frame domain.RequestFrame) (domain.Stream, error) {
	f.mu.Lock()
	f.frames = append(f.frames, frame)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &domain.TransportError{Op: "dial", Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

func (f *fakeOpener) sentFrames() []domain.RequestFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RequestFrame(nil), f.frames...)
}
