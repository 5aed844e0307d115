package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amillerrr/video-ingest/internal/auth"
	"github.com/amillerrr/video-ingest/internal/config"
	"github.com/amillerrr/video-ingest/internal/health"
	"github.com/amillerrr/video-ingest/internal/ingest"
	"github.com/amillerrr/video-ingest/pkg/models"
)

// fakeUploader records the request it was given and the payload bytes.
type fakeUploader struct {
	err     error
	req     *ingest.UploadRequest
	payload []byte
	ctxErr  error
}

func (f *fakeUploader) Upload(ctx context.Context, req *ingest.UploadRequest) (*models.VideoRecord, error) {
	f.req = req
	f.ctxErr = ctx.Err()
	if req.Payload != nil {
		f.payload, _ = io.ReadAll(req.Payload)
	}
	if f.err != nil {
		return nil, f.err
	}
	url := "https://cdn.example.com/landscape/" + req.VideoID + ".mp4"
	return &models.VideoRecord{ID: req.VideoID, UserID: "user-1", VideoURL: &url}, nil
}

type fakeVideoStore struct {
	mu     sync.Mutex
	videos map[string]*models.VideoRecord
	err    error
}

func newFakeVideoStore() *fakeVideoStore {
	return &fakeVideoStore{videos: make(map[string]*models.VideoRecord)}
}

func (s *fakeVideoStore) CreateVideo(ctx context.Context, video *models.VideoRecord) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videos[video.ID] = video
	return nil
}

func (s *fakeVideoStore) GetVideo(ctx context.Context, id string) (*models.VideoRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, models.ErrVideoNotFound
	}
	return v, nil
}

type testEnv struct {
	handler  http.Handler
	uploader *fakeUploader
	videos   *fakeVideoStore
	jwt      *auth.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	jwtSvc, err := auth.NewJWTService([]byte("test-secret-that-is-long-enough-for-testing"))
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}
	rl := auth.NewRateLimiter(auth.RateLimiterConfig{MaxFailedAttempts: 3, Window: time.Minute, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)

	env := &testEnv{uploader: &fakeUploader{}, videos: newFakeVideoStore(), jwt: jwtSvc}
	env.handler = NewRouter(&ServerConfig{
		Config:        &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}},
		Logger:        logger,
		Uploader:      env.uploader,
		Videos:        env.videos,
		JWTService:    jwtSvc,
		RateLimiter:   rl,
		HealthChecker: health.NewChecker(health.DefaultConfig("test", logger)),
	})
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.jwt.GenerateToken(userID)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return token
}

func multipartBody(t *testing.T, field, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatal(err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="clip.mp4"`, field))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{models.ErrInvalidContentType, http.StatusBadRequest},
		{models.ErrPayloadTooLarge, http.StatusBadRequest},
		{fmt.Errorf("%w: bad token", models.ErrUnauthorized), http.StatusUnauthorized},
		{models.ErrForbidden, http.StatusForbidden},
		{models.ErrVideoNotFound, http.StatusNotFound},
		{models.ErrVideoExists, http.StatusConflict},
		{fmt.Errorf("%w: %w", models.ErrProbeFailed, models.ErrTimeout), http.StatusGatewayTimeout},
		{models.ErrProbeFailed, http.StatusInternalServerError},
		{models.ErrRemuxFailed, http.StatusInternalServerError},
		{models.ErrStorageWriteFailed, http.StatusInternalServerError},
		{errors.New("anything"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUploadVideoHandler_Success(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, VideoFormField, "video/mp4", []byte("mp4-bytes"))

	req := httptest.NewRequest(http.MethodPut, "/api/video_upload/vid-1", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	got := env.uploader.req
	if got.VideoID != "vid-1" {
		t.Errorf("VideoID = %s, want vid-1", got.VideoID)
	}
	if got.Credential != "tok" {
		t.Errorf("Credential = %s, want tok", got.Credential)
	}
	if got.ContentType != "video/mp4" {
		t.Errorf("ContentType = %s, want video/mp4", got.ContentType)
	}
	if string(env.uploader.payload) != "mp4-bytes" {
		t.Errorf("payload = %q, want mp4-bytes", env.uploader.payload)
	}
	if got.Size != declaredFileSize(req.ContentLength) {
		t.Errorf("Size = %d, want %d", got.Size, declaredFileSize(req.ContentLength))
	}

	var video models.VideoRecord
	if err := json.NewDecoder(rr.Body).Decode(&video); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if video.VideoURL == nil || *video.VideoURL != "https://cdn.example.com/landscape/vid-1.mp4" {
		t.Errorf("video_url = %v", video.VideoURL)
	}
}

func TestUploadVideoHandler_DeclaredSize(t *testing.T) {
	tests := []struct {
		name          string
		contentLength int64
		wantTooLarge  bool
	}{
		{"max size file plus envelope", models.MaxUploadSize + 4096, false},
		{"max size file plus full envelope", models.MaxUploadSize + multipartOverhead, false},
		{"past envelope allowance", models.MaxUploadSize + multipartOverhead + 1, true},
		{"unknown length", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			body, ct := multipartBody(t, VideoFormField, "video/mp4", []byte("x"))

			req := httptest.NewRequest(http.MethodPut, "/api/video_upload/vid-1", body)
			req.Header.Set("Content-Type", ct)
			req.ContentLength = tt.contentLength
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)

			got := env.uploader.req
			if got == nil {
				t.Fatal("uploader was not called")
			}
			if tooLarge := got.Size > models.MaxUploadSize; tooLarge != tt.wantTooLarge {
				t.Errorf("Size = %d, over limit = %v, want %v", got.Size, tooLarge, tt.wantTooLarge)
			}
			if tt.contentLength < 0 && got.Size != -1 {
				t.Errorf("Size = %d, want -1 for unknown length", got.Size)
			}
		})
	}
}

func TestUploadVideoHandler_SurvivesClientCancel(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartBody(t, VideoFormField, "video/mp4", []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPut, "/api/video_upload/vid-1", body).WithContext(ctx)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if env.uploader.ctxErr != nil {
		t.Errorf("pipeline context error = %v, want nil", env.uploader.ctxErr)
	}
}

func TestUploadVideoHandler_MissingVideoPart(t *testing.T) {
	tests := []struct {
		name        string
		body        io.Reader
		contentType string
	}{
		{"wrong field name", nil, ""},
		{"not multipart", strings.NewReader("raw"), "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			body, ct := tt.body, tt.contentType
			if body == nil {
				body, ct = multipartBody(t, "file", "video/mp4", []byte("x"))
			}

			req := httptest.NewRequest(http.MethodPut, "/api/video_upload/vid-1", body)
			req.Header.Set("Content-Type", ct)
			env.handler.ServeHTTP(httptest.NewRecorder(), req)

			if env.uploader.req.Payload != nil {
				t.Error("Payload should be nil when no video part is present")
			}
		})
	}
}

func TestUploadVideoHandler_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantBody string
	}{
		{"bad request", models.ErrInvalidContentType, http.StatusBadRequest, "invalid content type"},
		{"unauthorized", fmt.Errorf("%w: expired", models.ErrUnauthorized), http.StatusUnauthorized, "Invalid or missing credentials"},
		{"forbidden", models.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"not found", models.ErrVideoNotFound, http.StatusNotFound, "video not found"},
		{"probe failed", fmt.Errorf("%w: exit status 1: secret stderr", models.ErrProbeFailed), http.StatusInternalServerError, "Internal server error"},
		{"timeout", fmt.Errorf("%w: %w", models.ErrRemuxFailed, models.ErrTimeout), http.StatusGatewayTimeout, "Processing timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.uploader.err = tt.err
			body, ct := multipartBody(t, VideoFormField, "video/mp4", []byte("x"))

			req := httptest.NewRequest(http.MethodPut, "/api/video_upload/vid-1", body)
			req.Header.Set("Content-Type", ct)
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("handler returned %d, want %d", rr.Code, tt.want)
			}
			var resp map[string]string
			json.NewDecoder(rr.Body).Decode(&resp)
			if !strings.Contains(resp["error"], tt.wantBody) {
				t.Errorf("error = %q, want it to contain %q", resp["error"], tt.wantBody)
			}
			if strings.Contains(resp["error"], "secret stderr") {
				t.Error("internal error detail leaked to client")
			}
		})
	}
}

func TestUploadVideoHandler_RateLimitsAuthFailures(t *testing.T) {
	env := newTestEnv(t)
	env.uploader.err = models.ErrUnauthorized

	send := func() int {
		body, ct := multipartBody(t, VideoFormField, "video/mp4", []byte("x"))
		req := httptest.NewRequest(http.MethodPut, "/api/video_upload/vid-1", body)
		req.Header.Set("Content-Type", ct)
		req.RemoteAddr = "203.0.113.9:5555"
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 3; i++ {
		if code := send(); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d returned %d, want 401", i, code)
		}
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Errorf("handler returned %d, want 429", code)
	}
}

func TestCreateVideoHandler(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"title":"Boots","description":"demo"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("handler returned %d, want %d: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var video models.VideoRecord
	if err := json.NewDecoder(rr.Body).Decode(&video); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if video.ID == "" || video.UserID != "user-1" || video.Title != "Boots" {
		t.Errorf("unexpected video %+v", video)
	}
	if _, err := env.videos.GetVideo(context.Background(), video.ID); err != nil {
		t.Errorf("video not stored: %v", err)
	}
}

func TestCreateVideoHandler_Errors(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, "user-1")

	tests := []struct {
		name string
		auth string
		body string
		want int
	}{
		{"no token", "", `{"title":"t"}`, http.StatusUnauthorized},
		{"invalid json", "Bearer " + token, `{`, http.StatusBadRequest},
		{"missing title", "Bearer " + token, `{"description":"d"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("handler returned %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestGetVideoHandler(t *testing.T) {
	env := newTestEnv(t)
	env.videos.videos["vid-1"] = &models.VideoRecord{ID: "vid-1", UserID: "user-1", Title: "t"}

	tests := []struct {
		name   string
		userID string
		id     string
		want   int
	}{
		{"owner", "user-1", "vid-1", http.StatusOK},
		{"other user", "user-2", "vid-1", http.StatusForbidden},
		{"missing", "user-1", "nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/videos/"+tt.id, nil)
			req.Header.Set("Authorization", "Bearer "+env.token(t, tt.userID))
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("handler returned %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{"allowed origin", "http://localhost:3000", http.MethodGet, "http://localhost:3000", http.StatusOK},
		{"disallowed origin", "http://evil.com", http.MethodGet, "", http.StatusOK},
		{"preflight", "http://localhost:3000", http.MethodOptions, "http://localhost:3000", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			req.Header.Set("Origin", tt.origin)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestIsInternalRequest(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3:1234", true},
		{"172.16.5.4:1234", true},
		{"192.168.1.1:1234", true},
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"8.8.8.8:1234", false},
		{"invalid", false},
	}

	for _, tt := range tests {
		if got := isInternalRequest(tt.addr); got != tt.want {
			t.Errorf("isInternalRequest(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestMetricsEndpoint_InternalOnly(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("internal /metrics returned %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "8.8.8.8")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("proxied /metrics returned %d, want 403", rr.Code)
	}
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t)

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("/health returned %d, want 200", rr.Code)
	}
}
