package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upload pipeline. Callers classify with errors.Is.
var (
	// Request errors
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Storage errors
	ErrVideoNotFound      = errors.New("video not found")
	ErrVideoExists        = errors.New("video already exists")
	ErrStorageWriteFailed = errors.New("failed to write object to storage")

	// Processing errors
	ErrProbeFailed = errors.New("ffprobe execution failed")
	ErrRemuxFailed = errors.New("ffmpeg fast-start remux failed")
	ErrTimeout     = errors.New("operation timed out")
)

// Validation errors for uploads. Each one is also an ErrBadRequest.
var (
	ErrMissingVideoID     = fmt.Errorf("%w: video id is required", ErrBadRequest)
	ErrInvalidVideoID     = fmt.Errorf("%w: invalid video id", ErrBadRequest)
	ErrMissingPayload     = fmt.Errorf("%w: video file is required", ErrBadRequest)
	ErrPayloadTooLarge    = fmt.Errorf("%w: video file too large", ErrBadRequest)
	ErrInvalidContentType = fmt.Errorf("%w: invalid content type", ErrBadRequest)
	ErrMissingTitle       = fmt.Errorf("%w: title is required", ErrBadRequest)
)
