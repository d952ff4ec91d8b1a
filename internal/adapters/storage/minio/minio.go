package minio

import (
	"context"
	"fmt"
	"io"
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinPartSize is the smallest part S3 accepts, except for the last one
const MinPartSize = 5 << 20

// Adapter is a port.Transport writing straight to a minio bucket
type Adapter struct {
	client *minio.Client
	core   *minio.Core
	config config.MinioConfig
	logger *slog.Logger
}

// NewAdapter returns Adapter, creating the bucket when missing
func NewAdapter(ctx context.Context, cfg config.MinioConfig, logger *slog.Logger) (*Adapter, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	core := minio.Core{Client: client}
	return &Adapter{client: client, config: cfg, core: &core, logger: logger}, nil
}

var _ port.Transport = (*Adapter)(nil)

// Send puts the whole object in one request
func (a *Adapter) Send(ctx context.Context, ref port.ObjectRef, body io.Reader) error {
	key := a.objectKey(ref)
	info, err := a.client.PutObject(ctx, a.config.BucketName, key, body, ref.Size, a.putOptions(ref))
	if err != nil {
		return wrapError("put object", err)
	}

	a.logger.Debug("object uploaded", "key", key, "size", info.Size)
	return nil
}

// BeginMultipart starts a multipart upload. Any chunk size is accepted.
func (a *Adapter) BeginMultipart(ctx context.Context, ref port.ObjectRef, chunkSize int64) (port.MultipartUpload, error) {
	key := a.objectKey(ref)
	uploadID, err := a.core.NewMultipartUpload(ctx, a.config.BucketName, key, a.putOptions(ref))
	if err != nil {
		return nil, wrapError("init multipart upload", err)
	}

	if chunkSize < MinPartSize {
		a.logger.Warn("chunk size below the storage minimum part size", "key", key, "chunk_size", chunkSize)
	}

	return &multipart{
		adapter:  a,
		key:      key,
		uploadID: uploadID,
		parts:    make(map[int]minio.CompletePart),
	}, nil
}

// GetObject retrieves an obj
func (a *Adapter) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := a.client.GetObject(ctx, a.config.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return object, nil
}

// ObjectKey returns the bucket key used for ref
func (a *Adapter) ObjectKey(ref port.ObjectRef) string {
	return a.objectKey(ref)
}

func (a *Adapter) objectKey(ref port.ObjectRef) string {
	if a.config.KeyPrefix == "" {
		return ref.Key
	}
	return path.Join(a.config.KeyPrefix, ref.Key)
}

func (a *Adapter) putOptions(ref port.ObjectRef) minio.PutObjectOptions {
	opts := minio.PutObjectOptions{ContentType: ref.ContentType}
	if ref.Category != "" {
		opts.UserMetadata = map[string]string{"category": ref.Category}
	}
	return opts
}

type multipart struct {
	adapter  *Adapter
	key      string
	uploadID string

	mu    sync.Mutex
	parts map[int]minio.CompletePart
}

func (m *multipart) PartSize() int64 {
	return 0
}

// PutChunk uploads one part. Part numbers start at 1.
func (m *multipart) PutChunk(ctx context.Context, chunk domain.ChunkDescriptor, body io.Reader) error {
	partNumber := chunk.Index + 1
	part, err := m.adapter.core.PutObjectPart(ctx, m.adapter.config.BucketName, m.key, m.uploadID, partNumber, body, chunk.Len(), minio.PutObjectPartOptions{})
	if err != nil {
		return wrapError(fmt.Sprintf("put part %d", partNumber), err)
	}

	m.mu.Lock()
	m.parts[partNumber] = minio.CompletePart{
		PartNumber: partNumber,
		ETag:       strings.Trim(part.ETag, "\""),
	}
	m.mu.Unlock()
	return nil
}

// Complete marks the minio multipart as complete
func (m *multipart) Complete(ctx context.Context) error {
	m.mu.Lock()
	completeParts := make([]minio.CompletePart, 0, len(m.parts))
	for _, part := range m.parts {
		completeParts = append(completeParts, part)
	}
	m.mu.Unlock()

	sort.Slice(completeParts, func(i, j int) bool {
		return completeParts[i].PartNumber < completeParts[j].PartNumber
	})

	opts := minio.PutObjectOptions{
		SendContentMd5: false,
	}

	_, err := m.adapter.core.CompleteMultipartUpload(ctx, m.adapter.config.BucketName, m.key, m.uploadID, completeParts, opts)
	if err != nil {
		return wrapError("complete multipart upload", err)
	}
	return nil
}

func (m *multipart) Abort(ctx context.Context) error {
	err := m.adapter.core.AbortMultipartUpload(ctx, m.adapter.config.BucketName, m.key, m.uploadID)
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	m.adapter.logger.Info("multipart upload aborted",
		slog.String("key", m.key),
		slog.String("uploadID", m.uploadID))

	return nil
}

// wrapError turns minio HTTP failures into domain.StatusError so they get classified
func wrapError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return fmt.Errorf("failed to %s: %w", op, &domain.StatusError{StatusCode: resp.StatusCode, Body: resp.Code})
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
