package upload

import (
	"context"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUploadService is a mock implementation of port.UploadService
type MockUploadService struct {
	mock.Mock
}

// NewMockUploadService creates a new MockUploadService
func NewMockUploadService() *MockUploadService {
	return &MockUploadService{}
}

func (m *MockUploadService) CreateSession(name string) uuid.UUID {
	args := m.Called(name)
	return args.Get(0).(uuid.UUID)
}

func (m *MockUploadService) UploadFile(file domain.File, category string, sessionID *uuid.UUID) (uuid.UUID, error) {
	args := m.Called(file, category, sessionID)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockUploadService) UploadFiles(files []domain.File, sessionID *uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(files, sessionID)
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockUploadService) CancelSession(sessionID uuid.UUID) error {
	args := m.Called(sessionID)
	return args.Error(0)
}

func (m *MockUploadService) GetSessionStats(sessionID uuid.UUID) (*domain.SessionStats, error) {
	args := m.Called(sessionID)
	return args.Get(0).(*domain.SessionStats), args.Error(1)
}

func (m *MockUploadService) ListSessions() []domain.SessionStats {
	args := m.Called()
	return args.Get(0).([]domain.SessionStats)
}

func (m *MockUploadService) SessionHistory(ctx context.Context, sessionID uuid.UUID) ([]domain.HistoryRecord, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).([]domain.HistoryRecord), args.Error(1)
}

func (m *MockUploadService) CancelTask(taskID uuid.UUID) bool {
	args := m.Called(taskID)
	return args.Bool(0)
}

func (m *MockUploadService) TaskStatus(ctx context.Context, taskID uuid.UUID) (*domain.TaskStatus, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(*domain.TaskStatus), args.Error(1)
}

func (m *MockUploadService) QueueStats() domain.QueueStats {
	args := m.Called()
	return args.Get(0).(domain.QueueStats)
}

func (m *MockUploadService) GlobalProgress() domain.Progress {
	args := m.Called()
	return args.Get(0).(domain.Progress)
}

func (m *MockUploadService) Pause() {
	m.Called()
}

func (m *MockUploadService) Resume(concurrency ...int) {
	m.Called(concurrency)
}

func (m *MockUploadService) Subscribe(listener port.Listener) func() {
	args := m.Called(listener)
	return args.Get(0).(func())
}
