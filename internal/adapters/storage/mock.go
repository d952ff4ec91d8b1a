package storage

import (
	"context"
	"io"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"

	"github.com/stretchr/testify/mock"
)

type MockTransport struct {
	mock.Mock
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

func (m *MockTransport) Send(ctx context.Context, ref port.ObjectRef, body io.Reader) error {
	args := m.Called(ctx, ref, body)
	return args.Error(0)
}

func (m *MockTransport) BeginMultipart(ctx context.Context, ref port.ObjectRef, chunkSize int64) (port.MultipartUpload, error) {
	args := m.Called(ctx, ref, chunkSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(port.MultipartUpload), args.Error(1)
}

type MockMultipartUpload struct {
	mock.Mock
}

func NewMockMultipartUpload() *MockMultipartUpload {
	return &MockMultipartUpload{}
}

func (m *MockMultipartUpload) PutChunk(ctx context.Context, chunk domain.ChunkDescriptor, body io.Reader) error {
	args := m.Called(ctx, chunk, body)
	return args.Error(0)
}

func (m *MockMultipartUpload) PartSize() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

func (m *MockMultipartUpload) Complete(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockMultipartUpload) Abort(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
