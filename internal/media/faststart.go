package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// FFmpeg rewrites MP4 files for progressive playback.
type FFmpeg struct {
	runner Runner
	binary string
}

// NewFFmpeg creates a new FFmpeg using binary (usually "ffmpeg").
func NewFFmpeg(runner Runner, binary string) *FFmpeg {
	return &FFmpeg{runner: runner, binary: binary}
}

// FastStartArgs returns the ffmpeg arguments that copy inputPath to
// outputPath with the moov atom moved to the front.
func (f *FFmpeg) FastStartArgs(inputPath, outputPath string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-c", "copy",
		"-map_metadata", "0",
		"-movflags", "faststart",
		"-f", "mp4",
		outputPath,
	}
}

// FastStart writes a stream-copied, fast-start version of inputPath to
// ProcessedPath(inputPath) and returns that path. The input is not modified.
func (f *FFmpeg) FastStart(ctx context.Context, inputPath string) (string, error) {
	ctx, span := tracer.Start(ctx, "ffmpeg-faststart")
	defer span.End()

	outputPath := ProcessedPath(inputPath)

	res, err := runTool(ctx, f.runner, "ffmpeg", f.binary, f.FastStartArgs(inputPath, outputPath)...)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", models.ErrRemuxFailed, models.ErrTimeout)
		}
		return "", fmt.Errorf("%w: %v", models.ErrRemuxFailed, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%w: exit status %d: %s",
			models.ErrRemuxFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	return outputPath, nil
}
