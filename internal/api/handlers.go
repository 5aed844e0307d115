package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/video-ingest/internal/auth"
	"github.com/amillerrr/video-ingest/internal/ingest"
	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/pkg/models"
)

var tracer = otel.Tracer("ingest-api")

const (
	// VideoFormField is the multipart field carrying the upload.
	VideoFormField = "video"

	MaxRequestBodySize = 1 << 20 // 1 MB

	// multipartOverhead leaves room for part headers and boundaries around
	// a maximum-size file.
	multipartOverhead = 1 << 20
)

// Uploader runs the upload pipeline.
type Uploader interface {
	Upload(ctx context.Context, req *ingest.UploadRequest) (*models.VideoRecord, error)
}

// VideoStore creates and reads video records.
type VideoStore interface {
	CreateVideo(ctx context.Context, video *models.VideoRecord) error
	GetVideo(ctx context.Context, id string) (*models.VideoRecord, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	log         *slog.Logger
	uploader    Uploader
	videos      VideoStore
	rateLimiter *auth.RateLimiter
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Logger      *slog.Logger
	Uploader    Uploader
	Videos      VideoStore
	RateLimiter *auth.RateLimiter
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		log:         cfg.Logger,
		uploader:    cfg.Uploader,
		videos:      cfg.Videos,
		rateLimiter: cfg.RateLimiter,
	}
}

func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// writeServiceError maps err to a status and writes a client-safe body.
func (h *Handlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := StatusFor(err)
	h.writeError(ctx, w, status, publicMessage(status, err))
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

// UploadVideoHandler accepts a multipart upload for an existing video and
// runs it through the pipeline.
func (h *Handlers) UploadVideoHandler(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	videoID := chi.URLParam(r, "videoID")

	ctx, span := tracer.Start(r.Context(), "upload-video-handler",
		trace.WithAttributes(
			attribute.String("handler", "upload-video"),
			attribute.String("request.id", reqID),
			attribute.String("video.id", videoID),
		))
	defer span.End()

	ip := auth.GetClientIP(r)
	if h.rateLimiter != nil && h.rateLimiter.IsLimited(ip) {
		metrics.AuthFailures.WithLabelValues("rate_limited").Inc()
		h.writeError(ctx, w, http.StatusTooManyRequests, "Too many failed authentication attempts")
		return
	}

	// A missing or malformed header leaves the credential empty; the
	// pipeline rejects it in order with its other checks.
	credential, _ := auth.ExtractTokenFromRequest(r)

	r.Body = http.MaxBytesReader(w, r.Body, models.MaxUploadSize+multipartOverhead)

	req := &ingest.UploadRequest{
		VideoID:    videoID,
		Credential: credential,
		Size:       declaredFileSize(r.ContentLength),
	}
	if part, err := videoPart(r); err == nil {
		defer part.Close()
		req.Payload = part
		req.ContentType = part.Header.Get("Content-Type")
	} else {
		h.log.DebugContext(ctx, "No video part in request",
			"videoId", videoID,
			"requestId", reqID,
			"error", err,
		)
	}

	// The pipeline finishes even if the client goes away.
	video, err := h.uploader.Upload(context.WithoutCancel(ctx), req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, models.ErrUnauthorized) {
			metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
			if h.rateLimiter != nil {
				h.rateLimiter.RecordFailure(ip)
			}
		}
		h.log.WarnContext(ctx, "Upload rejected",
			"videoId", videoID,
			"requestId", reqID,
			"status", StatusFor(err),
			"error", err,
		)
		h.writeServiceError(ctx, w, err)
		return
	}

	if h.rateLimiter != nil {
		h.rateLimiter.Reset(ip)
	}
	h.log.InfoContext(ctx, "Video uploaded",
		"videoId", videoID,
		"requestId", reqID,
	)
	h.writeJSON(ctx, w, http.StatusOK, video)
}

// declaredFileSize discounts the multipart envelope from a body length so a
// file of exactly MaxUploadSize is not rejected for its part headers. The
// pipeline still caps the bytes it actually reads.
func declaredFileSize(contentLength int64) int64 {
	if contentLength < 0 {
		return -1
	}
	return max(contentLength-multipartOverhead, 0)
}

// videoPart advances the multipart body to the video field without
// buffering it.
func videoPart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, http.ErrMissingFile
			}
			return nil, err
		}
		if part.FormName() == VideoFormField {
			return part, nil
		}
		part.Close()
	}
}

// CreateVideoRequest is the request payload for creating a video record.
type CreateVideoRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateVideoHandler creates a draft video owned by the caller.
func (h *Handlers) CreateVideoHandler(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)
	ctx, span := tracer.Start(r.Context(), "create-video-handler",
		trace.WithAttributes(
			attribute.String("handler", "create-video"),
			attribute.String("request.id", reqID),
		))
	defer span.End()

	claims, ok := auth.GetClaimsFromContext(ctx)
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid or missing credentials")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var body CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		span.RecordError(err)
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	video := &models.VideoRecord{
		ID:          uuid.NewString(),
		UserID:      claims.UserID(),
		Title:       body.Title,
		Description: body.Description,
	}
	if err := video.Validate(); err != nil {
		h.writeServiceError(ctx, w, err)
		return
	}

	if err := h.videos.CreateVideo(ctx, video); err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to create video",
			"error", err,
			"videoId", video.ID,
			"requestId", reqID,
		)
		h.writeServiceError(ctx, w, err)
		return
	}

	span.SetAttributes(attribute.String("video.id", video.ID))
	h.log.InfoContext(ctx, "Video created",
		"videoId", video.ID,
		"userId", video.UserID,
		"requestId", reqID,
	)
	h.writeJSON(ctx, w, http.StatusCreated, video)
}

// GetVideoHandler returns a video owned by the caller.
func (h *Handlers) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	videoID := chi.URLParam(r, "videoID")

	claims, ok := auth.GetClaimsFromContext(ctx)
	if !ok {
		h.writeError(ctx, w, http.StatusUnauthorized, "Invalid or missing credentials")
		return
	}

	video, err := h.videos.GetVideo(ctx, videoID)
	if err != nil {
		if !errors.Is(err, models.ErrVideoNotFound) {
			h.log.ErrorContext(ctx, "Failed to get video", "error", err, "videoId", videoID)
		}
		h.writeServiceError(ctx, w, err)
		return
	}

	if !video.IsOwnedBy(claims.UserID()) {
		h.writeServiceError(ctx, w, models.ErrForbidden)
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, video)
}
