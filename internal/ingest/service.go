// Package ingest runs the upload pipeline: validate the request, buffer the
// payload, classify and remux it, store the result, and record its URL.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/amillerrr/video-ingest/internal/lock"
	"github.com/amillerrr/video-ingest/internal/media"
	"github.com/amillerrr/video-ingest/internal/metrics"
	"github.com/amillerrr/video-ingest/pkg/models"
)

var (
	tracer      = otel.Tracer("ingest-pipeline")
	validID     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	maxIDLength = 128
)

// State is a step of an upload run.
type State string

const (
	StateValidating State = "validating"
	StateBuffering  State = "buffering"
	StateProbing    State = "probing"
	StateRemuxing   State = "remuxing"
	StateUploading  State = "uploading"
	StateRecording  State = "recording"
	StateDone       State = "done"
)

// Authenticator resolves a bearer credential to a user id.
type Authenticator interface {
	Authenticate(credential string) (string, error)
}

// RecordStore reads video records and sets their playback URL. SetVideoURL
// writes no other field and returns the record as stored.
type RecordStore interface {
	GetVideo(ctx context.Context, id string) (*models.VideoRecord, error)
	SetVideoURL(ctx context.Context, id, videoURL string) (*models.VideoRecord, error)
}

// Prober reads the geometry of a video file.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Dimensions, error)
}

// Remuxer writes a fast-start copy of a file and returns its path.
type Remuxer interface {
	FastStart(ctx context.Context, inputPath string) (string, error)
}

// ObjectStore stores processed files and resolves their public URLs.
type ObjectStore interface {
	PutFile(ctx context.Context, key, path, contentType string) error
	URL(key string) string
}

// Notifier is told about every successfully recorded video.
type Notifier interface {
	VideoProcessed(ctx context.Context, event models.VideoProcessedEvent) error
}

// UploadRequest is one upload as received from the transport.
type UploadRequest struct {
	VideoID     string
	Credential  string
	Payload     io.Reader
	ContentType string
	// Size is the declared payload size in bytes; negative when unknown.
	Size int64
}

// Config holds pipeline limits.
type Config struct {
	TempDir        string
	MaxUploadSize  int64
	ProbeTimeout   time.Duration
	RemuxTimeout   time.Duration
	StorageTimeout time.Duration
}

// Dependencies are the collaborators a Service needs. Locker defaults to an
// in-process lock and Notifier is optional.
type Dependencies struct {
	Auth     Authenticator
	Records  RecordStore
	Prober   Prober
	Remuxer  Remuxer
	Objects  ObjectStore
	Locker   lock.Locker
	Notifier Notifier
}

// Service runs upload pipelines.
type Service struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger
	now  func() time.Time
}

// NewService creates a new Service.
func NewService(cfg Config, deps Dependencies, log *slog.Logger) (*Service, error) {
	if cfg.TempDir == "" {
		return nil, errors.New("temp dir is required")
	}
	if deps.Auth == nil || deps.Records == nil || deps.Prober == nil || deps.Remuxer == nil || deps.Objects == nil {
		return nil, errors.New("auth, records, prober, remuxer and objects are required")
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = models.MaxUploadSize
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemoryLocker()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, deps: deps, log: log, now: time.Now}, nil
}

// run tracks the state and temporary files of one upload.
type run struct {
	svc       *Service
	req       *UploadRequest
	state     State
	entered   time.Time
	artifacts []string
}

func (r *run) enter(ctx context.Context, state State) {
	now := r.svc.now()
	metrics.ObserveStage(string(r.state), now.Sub(r.entered).Seconds())
	r.svc.log.DebugContext(ctx, "Upload state changed",
		"videoId", r.req.VideoID,
		"from", r.state,
		"to", state,
	)
	r.state = state
	r.entered = now
}

func (r *run) track(path string) {
	r.artifacts = append(r.artifacts, path)
}

func (r *run) cleanup(ctx context.Context) {
	for _, path := range r.artifacts {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.svc.log.WarnContext(ctx, "Failed to remove temporary file",
				"videoId", r.req.VideoID,
				"path", path,
				"error", err,
			)
		}
	}
}

// Upload runs the pipeline for req and returns the updated record. Temporary
// files are removed before it returns, whatever the outcome.
func (s *Service) Upload(ctx context.Context, req *UploadRequest) (*models.VideoRecord, error) {
	ctx, span := tracer.Start(ctx, "ingest-upload")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", req.VideoID))

	metrics.ActiveUploads.Inc()
	defer metrics.ActiveUploads.Dec()

	r := &run{svc: s, req: req, state: StateValidating, entered: s.now()}
	video, err := s.upload(ctx, r)
	metrics.RecordUpload(Outcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.ErrorContext(ctx, "Upload failed",
			"videoId", req.VideoID,
			"state", r.state,
			"error", err,
		)
		return nil, err
	}

	r.enter(ctx, StateDone)
	s.log.InfoContext(ctx, "Upload complete",
		"videoId", req.VideoID,
		"videoUrl", *video.VideoURL,
	)
	return video, nil
}

func (s *Service) upload(ctx context.Context, r *run) (*models.VideoRecord, error) {
	req := r.req

	video, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock, err := s.deps.Locker.Lock(ctx, lock.VideoUploadKey(req.VideoID))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire upload lock: %w", err)
	}
	defer unlock()
	// Temp paths are per video id, so they are removed while the lock is held.
	defer r.cleanup(ctx)

	r.enter(ctx, StateBuffering)
	rawPath := media.RawUploadPath(s.cfg.TempDir, req.VideoID)
	r.track(rawPath)
	if err := s.buffer(rawPath, req.Payload); err != nil {
		return nil, err
	}

	r.enter(ctx, StateProbing)
	probeCtx, cancel := withTimeout(ctx, s.cfg.ProbeTimeout)
	dims, err := s.deps.Prober.Probe(probeCtx, rawPath)
	err = deadlineErr(probeCtx, err)
	cancel()
	if err != nil {
		return nil, err
	}
	class := dims.Class()
	metrics.AspectClasses.WithLabelValues(string(class)).Inc()

	r.enter(ctx, StateRemuxing)
	r.track(media.ProcessedPath(rawPath))
	remuxCtx, cancel := withTimeout(ctx, s.cfg.RemuxTimeout)
	processedPath, err := s.deps.Remuxer.FastStart(remuxCtx, rawPath)
	err = deadlineErr(remuxCtx, err)
	cancel()
	if err != nil {
		return nil, err
	}
	if processedPath != media.ProcessedPath(rawPath) {
		r.track(processedPath)
	}

	r.enter(ctx, StateUploading)
	key := media.StorageKey(class, req.VideoID)
	storeCtx, cancel := withTimeout(ctx, s.cfg.StorageTimeout)
	err = s.deps.Objects.PutFile(storeCtx, key, processedPath, models.VideoContentType)
	err = deadlineErr(storeCtx, err)
	cancel()
	if err != nil {
		return nil, err
	}

	r.enter(ctx, StateRecording)
	updated, err := s.deps.Records.SetVideoURL(ctx, video.ID, s.deps.Objects.URL(key))
	if err != nil {
		return nil, fmt.Errorf("failed to record video url: %w", err)
	}

	s.notify(ctx, updated, key, class)
	return updated, nil
}

// validate performs every request check before any bytes reach disk.
func (s *Service) validate(ctx context.Context, req *UploadRequest) (*models.VideoRecord, error) {
	if req.VideoID == "" {
		return nil, models.ErrMissingVideoID
	}
	if len(req.VideoID) > maxIDLength || !validID.MatchString(req.VideoID) {
		return nil, models.ErrInvalidVideoID
	}

	userID, err := s.deps.Auth.Authenticate(req.Credential)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	video, err := s.deps.Records.GetVideo(ctx, req.VideoID)
	if err != nil {
		if errors.Is(err, models.ErrVideoNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrVideoNotFound, req.VideoID)
		}
		return nil, fmt.Errorf("failed to load video: %w", err)
	}

	if !video.IsOwnedBy(userID) {
		return nil, fmt.Errorf("%w: video %s is not owned by user %s", models.ErrForbidden, req.VideoID, userID)
	}

	if req.Payload == nil {
		return nil, models.ErrMissingPayload
	}
	if req.Size > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", models.ErrPayloadTooLarge, req.Size, s.cfg.MaxUploadSize)
	}
	mediaType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil || mediaType != models.VideoContentType {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidContentType, req.ContentType)
	}

	return video, nil
}

// buffer copies payload to path, failing once it passes the size ceiling.
func (s *Service) buffer(path string, payload io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(payload, s.cfg.MaxUploadSize+1))
	closeErr := f.Close()
	metrics.BytesBuffered.Add(float64(n))

	switch {
	case copyErr != nil:
		return fmt.Errorf("%w: failed to read upload: %v", models.ErrBadRequest, copyErr)
	case n > s.cfg.MaxUploadSize:
		return fmt.Errorf("%w: exceeds %d bytes", models.ErrPayloadTooLarge, s.cfg.MaxUploadSize)
	case closeErr != nil:
		return fmt.Errorf("failed to write temp file: %w", closeErr)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, video *models.VideoRecord, key string, class media.AspectClass) {
	if s.deps.Notifier == nil {
		return
	}
	event := models.VideoProcessedEvent{
		VideoID:     video.ID,
		UserID:      video.UserID,
		VideoURL:    *video.VideoURL,
		StorageKey:  key,
		Aspect:      string(class),
		ProcessedAt: s.now().UTC().Format(time.RFC3339),
	}
	if err := s.deps.Notifier.VideoProcessed(ctx, event); err != nil {
		s.log.WarnContext(ctx, "Failed to publish video processed event",
			"videoId", video.ID,
			"error", err,
		)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// deadlineErr marks err as a timeout when the stage context expired.
func deadlineErr(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, models.ErrTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", err, models.ErrTimeout)
	}
	return err
}

// Outcome names the result of an upload for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, models.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrVideoNotFound):
		return "not_found"
	case errors.Is(err, models.ErrTimeout):
		return "timeout"
	case errors.Is(err, models.ErrProbeFailed):
		return "probe_failed"
	case errors.Is(err, models.ErrRemuxFailed):
		return "remux_failed"
	case errors.Is(err, models.ErrStorageWriteFailed):
		return "storage_failed"
	default:
		return "error"
	}
}
