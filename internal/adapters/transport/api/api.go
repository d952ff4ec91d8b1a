package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTag is sent when a file has no category, the API requires at least one tag
const DefaultTag = "document"

const maxErrorBody = 4 << 10

// UploadFileRequest asks the API for a presigned URL for a small file
type UploadFileRequest struct {
	FileName       string   `json:"filename"`
	ContentType    string   `json:"content_type"`
	SizeBytes      int64    `json:"size_bytes"`
	ChecksumSha256 string   `json:"checksum_sha256"`
	Tags           []string `json:"tags"`
}

// UploadFileResponse carries the presigned URL of a small file
type UploadFileResponse struct {
	FileID       uuid.UUID         `json:"file_id"`
	PresignedURL string            `json:"presigned_url"`
	Headers      map[string]string `json:"headers"`
	ExpiresAt    *time.Time        `json:"expires_at"`
}

// MultipartResponse opens a multipart session
type MultipartResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	PartSize  int       `json:"part_size"`
}

// PartRequest describes one part to presign
type PartRequest struct {
	PartNumber    int    `json:"part_number"`
	Checksum      string `json:"checksum"`
	ContentLength int64  `json:"content_length"`
}

// PresignPartsRequest is the body of the parts endpoint
type PresignPartsRequest struct {
	Parts []PartRequest `json:"parts"`
}

// PresignedPart is a presigned URL for one part
type PresignedPart struct {
	PartNumber   int               `json:"part_number"`
	PresignedURL string            `json:"presigned_url"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Headers      map[string]string `json:"headers"`
}

// PresignPartsResponse is the answer of the parts endpoint
type PresignPartsResponse struct {
	Parts []PresignedPart `json:"presigned_parts"`
}

// CompletedPart is one uploaded part sent on completion
type CompletedPart struct {
	PartNumber int    `json:"part_number"`
	ETag       string `json:"etag"`
	Checksum   string `json:"checksum"`
}

// CompleteRequest finalizes a multipart session
type CompleteRequest struct {
	Parts []CompletedPart `json:"parts"`
}

// CompleteResponse returns the stored file id
type CompleteResponse struct {
	FileID uuid.UUID `json:"file_id"`
}

// Client is a port.Transport speaking the loan-application upload API:
// the API hands out presigned URLs and the bytes go straight to storage
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates Client
func NewClient(cfg config.APIConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

var _ port.Transport = (*Client)(nil)

// Send uploads a small file in one presigned PUT. The body is streamed when
// ref carries the payload checksum and size.
func (c *Client) Send(ctx context.Context, ref port.ObjectRef, body io.Reader) error {
	sum, size := ref.Checksum, ref.Size
	if sum == "" {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		sum, size, body = checksum(data), int64(len(data)), bytes.NewReader(data)
	}

	req := UploadFileRequest{
		FileName:       ref.Name,
		ContentType:    contentType(ref),
		SizeBytes:      size,
		ChecksumSha256: sum,
		Tags:           tags(ref),
	}
	var resp UploadFileResponse
	if err := c.postJSON(ctx, "/api/v1/file/upload", req, &resp); err != nil {
		return fmt.Errorf("failed to request presigned url: %w", err)
	}

	if _, err := c.put(ctx, resp.PresignedURL, resp.Headers, body, size); err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	c.logger.Debug("file uploaded", "file_id", resp.FileID, "key", ref.Key, "size", size)
	return nil
}

// BeginMultipart opens a multipart session. The API decides the part size.
func (c *Client) BeginMultipart(ctx context.Context, ref port.ObjectRef, chunkSize int64) (port.MultipartUpload, error) {
	req := UploadFileRequest{
		FileName:       ref.Name,
		ContentType:    contentType(ref),
		SizeBytes:      ref.Size,
		ChecksumSha256: ref.Checksum,
		Tags:           tags(ref),
	}
	var resp MultipartResponse
	if err := c.postJSON(ctx, "/api/v1/file/upload/multipart", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to init multipart upload: %w", err)
	}

	return &multipart{
		client:    c,
		sessionID: resp.SessionID,
		partSize:  int64(resp.PartSize),
		ref:       ref,
		parts:     make(map[int]CompletedPart),
	}, nil
}

type multipart struct {
	client    *Client
	sessionID uuid.UUID
	partSize  int64
	ref       port.ObjectRef

	mu    sync.Mutex
	parts map[int]CompletedPart
}

func (m *multipart) PartSize() int64 {
	return m.partSize
}

// PutChunk presigns the part then uploads it. Part numbers start at 1.
// A seekable body is hashed then rewound, anything else is buffered.
func (m *multipart) PutChunk(ctx context.Context, chunk domain.ChunkDescriptor, body io.Reader) error {
	partNumber := chunk.Index + 1
	sum, body, err := partChecksum(body)
	if err != nil {
		return fmt.Errorf("failed to read chunk: %w", err)
	}

	req := PresignPartsRequest{Parts: []PartRequest{{
		PartNumber:    partNumber,
		Checksum:      sum,
		ContentLength: chunk.Len(),
	}}}
	var resp PresignPartsResponse
	path := fmt.Sprintf("/api/v1/file/upload/multipart/%s/parts", m.sessionID)
	if err := m.client.postJSON(ctx, path, req, &resp); err != nil {
		return fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}
	if len(resp.Parts) != 1 || resp.Parts[0].PartNumber != partNumber {
		return &domain.UploadError{
			Class: domain.ErrorClassServer,
			Op:    "presign part",
			Err:   fmt.Errorf("no presigned url for part %d", partNumber),
		}
	}

	header, err := m.client.put(ctx, resp.Parts[0].PresignedURL, resp.Parts[0].Headers, body, chunk.Len())
	if err != nil {
		return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}

	m.mu.Lock()
	m.parts[partNumber] = CompletedPart{
		PartNumber: partNumber,
		ETag:       strings.Trim(header.Get("ETag"), "\""),
		Checksum:   sum,
	}
	m.mu.Unlock()
	return nil
}

// Complete sends every uploaded part in part number order
func (m *multipart) Complete(ctx context.Context) error {
	m.mu.Lock()
	parts := make([]CompletedPart, 0, len(m.parts))
	for _, part := range m.parts {
		parts = append(parts, part)
	}
	m.mu.Unlock()

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].PartNumber < parts[j].PartNumber
	})

	var resp CompleteResponse
	path := fmt.Sprintf("/api/v1/file/upload/multipart/%s/complete", m.sessionID)
	if err := m.client.postJSON(ctx, path, CompleteRequest{Parts: parts}, &resp); err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	m.client.logger.Debug("multipart upload completed", "file_id", resp.FileID, "key", m.ref.Key, "parts", len(parts))
	return nil
}

// Abort only logs: the API expires unfinished sessions on its own
func (m *multipart) Abort(ctx context.Context) error {
	m.client.logger.Info("multipart session left to expire", "session_id", m.sessionID, "key", m.ref.Key)
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w: %w", domain.ErrInvalidResponse, err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, url string, headers map[string]string, body io.Reader, size int64) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(hash[:])
}

func partChecksum(body io.Reader) (string, io.Reader, error) {
	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", nil, err
		}
		return checksum(data), bytes.NewReader(data), nil
	}

	hash := sha256.New()
	if _, err := io.Copy(hash, seeker); err != nil {
		return "", nil, err
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return "", nil, err
	}
	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), seeker, nil
}

func contentType(ref port.ObjectRef) string {
	if ref.ContentType == "" {
		return "application/octet-stream"
	}
	return ref.ContentType
}

func tags(ref port.ObjectRef) []string {
	if ref.Category == "" {
		return []string{DefaultTag}
	}
	return []string{ref.Category}
}
