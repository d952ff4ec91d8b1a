package port

import (
	"context"
	"io"
	"loan-upload/internal/core/domain"
)

// ObjectRef describes the destination object of an upload
type ObjectRef struct {
	Key         string
	Name        string
	ContentType string
	Category    string
	Size        int64
	// Checksum is the base64 SHA-256 of the whole payload
	Checksum string
}

// Transport is the upload primitive supplied by an HTTP or storage collaborator.
// It must honour ctx cancellation on every request.
type Transport interface {
	Send(ctx context.Context, ref ObjectRef, body io.Reader) error
	BeginMultipart(ctx context.Context, ref ObjectRef, chunkSize int64) (MultipartUpload, error)
}

// ChunkSink receives the chunks of one payload
type ChunkSink interface {
	PutChunk(ctx context.Context, chunk domain.ChunkDescriptor, body io.Reader) error
}

// ChunkSinkFunc adapts a function to ChunkSink
type ChunkSinkFunc func(ctx context.Context, chunk domain.ChunkDescriptor, body io.Reader) error

func (f ChunkSinkFunc) PutChunk(ctx context.Context, chunk domain.ChunkDescriptor, body io.Reader) error {
	return f(ctx, chunk, body)
}

// MultipartUpload is a remote assembly of chunks.
// PartSize returns the chunk size imposed by the remote side, or 0 when any size is accepted.
type MultipartUpload interface {
	ChunkSink
	PartSize() int64
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
}
