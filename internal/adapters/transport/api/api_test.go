package api_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"loan-upload/internal/adapters/transport/api"
	"loan-upload/internal/config"
	"loan-upload/internal/core/domain"
	"loan-upload/internal/core/port"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI emulates the upload API and the presigned storage behind it
type fakeAPI struct {
	server *httptest.Server

	mu         sync.Mutex
	auth       []string
	requests   []api.UploadFileRequest
	objects    map[string][]byte
	putHeaders map[string]http.Header
	completed  []api.CompletedPart
	partSize   int
	failPut    int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		objects:    make(map[string][]byte),
		putHeaders: make(map[string]http.Header),
		partSize:   4,
	}

	r := chi.NewRouter()
	r.Post("/api/v1/file/upload", func(w http.ResponseWriter, r *http.Request) {
		var req api.UploadFileRequest
		if !f.decode(w, r, &req) {
			return
		}
		id := uuid.New()
		writeJSON(w, http.StatusCreated, api.UploadFileResponse{
			FileID:       id,
			PresignedURL: f.server.URL + "/storage/" + id.String(),
			Headers:      map[string]string{"x-amz-checksum-sha256": req.ChecksumSha256},
		})
	})
	r.Post("/api/v1/file/upload/multipart", func(w http.ResponseWriter, r *http.Request) {
		var req api.UploadFileRequest
		if !f.decode(w, r, &req) {
			return
		}
		writeJSON(w, http.StatusCreated, api.MultipartResponse{SessionID: uuid.New(), PartSize: f.partSize})
	})
	r.Post("/api/v1/file/upload/multipart/{sessionID}/parts", func(w http.ResponseWriter, r *http.Request) {
		var req api.PresignPartsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := api.PresignPartsResponse{}
		for _, part := range req.Parts {
			resp.Parts = append(resp.Parts, api.PresignedPart{
				PartNumber:   part.PartNumber,
				PresignedURL: fmt.Sprintf("%s/storage/%s-%d", f.server.URL, chi.URLParam(r, "sessionID"), part.PartNumber),
				ExpiresAt:    time.Now().Add(time.Hour),
				Headers:      map[string]string{"x-amz-checksum-sha256": part.Checksum},
			})
		}
		writeJSON(w, http.StatusOK, resp)
	})
	r.Post("/api/v1/file/upload/multipart/{sessionID}/complete", func(w http.ResponseWriter, r *http.Request) {
		var req api.CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.completed = req.Parts
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, api.CompleteResponse{FileID: uuid.New()})
	})
	r.Put("/storage/{key}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		if f.failPut > 0 {
			f.failPut--
			f.mu.Unlock()
			http.Error(w, "slow down", http.StatusServiceUnavailable)
			return
		}
		f.mu.Unlock()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := chi.URLParam(r, "key")
		f.mu.Lock()
		f.objects[key] = data
		f.putHeaders[key] = r.Header.Clone()
		f.mu.Unlock()
		w.Header().Set("ETag", fmt.Sprintf("%q", "etag-"+key))
		w.WriteHeader(http.StatusOK)
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) decode(w http.ResponseWriter, r *http.Request, req *api.UploadFileRequest) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if len(req.Tags) == 0 {
		http.Error(w, "provide at least one tag", http.StatusBadRequest)
		return false
	}
	f.mu.Lock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.requests = append(f.requests, *req)
	f.mu.Unlock()
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sha(data string) string {
	hash := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// firstReadHook calls onFirst before the first byte is read
type firstReadHook struct {
	r       io.Reader
	onFirst func()
	read    bool
}

func (h *firstReadHook) Read(p []byte) (int, error) {
	if !h.read {
		h.read = true
		h.onFirst()
	}
	return h.r.Read(p)
}

func newClient(baseURL string) *api.Client {
	discardLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewClient(config.APIConfig{BaseURL: baseURL + "/", Token: "secret", Timeout: 5 * time.Second}, discardLogger)
}

func TestClient_Send(t *testing.T) {
	t.Run("nominal", func(t *testing.T) {
		// Arrange
		fake := newFakeAPI(t)
		client := newClient(fake.server.URL)
		ref := port.ObjectRef{Key: "s/t/payslip.pdf", Name: "payslip.pdf", ContentType: "application/pdf", Category: "income", Size: 11}

		// Act
		err := client.Send(t.Context(), ref, bytes.NewReader([]byte("hello world")))

		// Assert
		require.NoError(t, err)
		require.Len(t, fake.requests, 1)
		assert.Equal(t, api.UploadFileRequest{
			FileName:       "payslip.pdf",
			ContentType:    "application/pdf",
			SizeBytes:      11,
			ChecksumSha256: sha("hello world"),
			Tags:           []string{"income"},
		}, fake.requests[0])
		assert.Equal(t, []string{"Bearer secret"}, fake.auth)
		require.Len(t, fake.objects, 1)
		for key, data := range fake.objects {
			assert.Equal(t, "hello world", string(data))
			assert.Equal(t, sha("hello world"), fake.putHeaders[key].Get("x-amz-checksum-sha256"))
		}
	})

	t.Run("streams the body when the checksum is known", func(t *testing.T) {
		// Arrange
		fake := newFakeAPI(t)
		client := newClient(fake.server.URL)
		content := "bank statement"
		ref := port.ObjectRef{Name: "statement.pdf", Category: "bank", Size: int64(len(content)), Checksum: sha(content)}
		requestsAtFirstRead := -1
		body := &firstReadHook{r: strings.NewReader(content), onFirst: func() {
			fake.mu.Lock()
			requestsAtFirstRead = len(fake.requests)
			fake.mu.Unlock()
		}}

		// Act
		err := client.Send(t.Context(), ref, body)

		// Assert
		require.NoError(t, err)
		fake.mu.Lock()
		defer fake.mu.Unlock()
		assert.Equal(t, 1, requestsAtFirstRead)
		assert.Equal(t, sha(content), fake.requests[0].ChecksumSha256)
		assert.Equal(t, int64(len(content)), fake.requests[0].SizeBytes)
		for _, data := range fake.objects {
			assert.Equal(t, content, string(data))
		}
	})

	t.Run("defaults tag and content type", func(t *testing.T) {
		// Arrange
		fake := newFakeAPI(t)
		client := newClient(fake.server.URL)

		// Act
		err := client.Send(t.Context(), port.ObjectRef{Name: "id.png"}, bytes.NewReader([]byte("x")))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{api.DefaultTag}, fake.requests[0].Tags)
		assert.Equal(t, "application/octet-stream", fake.requests[0].ContentType)
	})

	t.Run("storage rejects the upload", func(t *testing.T) {
		// Arrange
		fake := newFakeAPI(t)
		fake.failPut = 1
		client := newClient(fake.server.URL)

		// Act
		err := client.Send(t.Context(), port.ObjectRef{Name: "a.pdf", Category: "id"}, bytes.NewReader([]byte("x")))

		// Assert
		var statusErr *domain.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
		assert.Equal(t, "slow down", statusErr.Body)
		assert.Equal(t, domain.ErrorClassServer, domain.Classify(err))
	})

	t.Run("undecodable answer is not a network failure", func(t *testing.T) {
		// Arrange
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<html>maintenance</html>"))
		}))
		t.Cleanup(server.Close)
		client := newClient(server.URL)

		// Act
		err := client.Send(t.Context(), port.ObjectRef{Name: "a.pdf"}, bytes.NewReader([]byte("x")))

		// Assert
		assert.ErrorIs(t, err, domain.ErrInvalidResponse)
		assert.Equal(t, domain.ErrorClassClientError, domain.Classify(err))
	})

	t.Run("api unreachable", func(t *testing.T) {
		// Arrange
		fake := newFakeAPI(t)
		fake.server.Close()
		client := newClient(fake.server.URL)

		// Act
		err := client.Send(t.Context(), port.ObjectRef{Name: "a.pdf"}, bytes.NewReader([]byte("x")))

		// Assert
		require.Error(t, err)
		assert.Equal(t, domain.ErrorClassNetwork, domain.Classify(err))
	})
}

func TestClient_Multipart(t *testing.T) {
	t.Run("nominal", func(t *testing.T) {
		// Arrange
		fake := newFakeAPI(t)
		client := newClient(fake.server.URL)
		content := "abcdefghij"
		ref := port.ObjectRef{Key: "k", Name: "statement.pdf", Category: "bank", Size: int64(len(content)), Checksum: sha(content)}

		// Act
		upload, err := client.BeginMultipart(t.Context(), ref, 1024)
		require.NoError(t, err)
		assert.Equal(t, int64(4), upload.PartSize())

		chunks := []domain.ChunkDescriptor{{Index: 2, Start: 8, End: 10}, {Index: 0, Start: 0, End: 4}, {Index: 1, Start: 4, End: 8}}
		for _, chunk := range chunks {
			err := upload.PutChunk(t.Context(), chunk, bytes.NewReader([]byte(content[chunk.Start:chunk.End])))
			require.NoError(t, err)
		}
		err = upload.Complete(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, sha(content), fake.requests[0].ChecksumSha256)
		assert.Equal(t, int64(10), fake.requests[0].SizeBytes)
		require.Len(t, fake.completed, 3)
		for i, part := range fake.completed {
			assert.Equal(t, i+1, part.PartNumber)
			assert.NotContains(t, part.ETag, "\"")
			chunk := content[i*4 : min((i+1)*4, len(content))]
			assert.Equal(t, sha(chunk), part.Checksum)
		}
		assert.NoError(t, upload.Abort(t.Context()))
	})

	t.Run("missing tag is a client error", func(t *testing.T) {
		// Arrange
		var calls int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			http.Error(w, "provide at least one tag", http.StatusBadRequest)
		}))
		t.Cleanup(server.Close)
		client := newClient(server.URL)

		// Act
		_, err := client.BeginMultipart(t.Context(), port.ObjectRef{Name: "a"}, 1024)

		// Assert
		assert.Equal(t, 1, calls)
		assert.Equal(t, domain.ErrorClassClientError, domain.Classify(err))
	})
}
