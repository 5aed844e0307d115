package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/video-ingest/pkg/models"
)

// ffprobeOutput is the subset of `ffprobe -print_format json -show_streams` we read.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// FFProbe reads stream geometry with ffprobe.
type FFProbe struct {
	runner Runner
	binary string
}

// NewFFProbe creates a new FFProbe using binary (usually "ffprobe").
func NewFFProbe(runner Runner, binary string) *FFProbe {
	return &FFProbe{runner: runner, binary: binary}
}

// Args returns the ffprobe arguments used to inspect path.
func (p *FFProbe) Args(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-print_format", "json",
		"-show_streams",
		path,
	}
}

// Probe returns the width and height of the first video stream in path.
func (p *FFProbe) Probe(ctx context.Context, path string) (Dimensions, error) {
	ctx, span := tracer.Start(ctx, "ffprobe")
	defer span.End()

	res, err := runTool(ctx, p.runner, "ffprobe", p.binary, p.Args(path)...)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) {
			return Dimensions{}, fmt.Errorf("%w: %w", models.ErrProbeFailed, models.ErrTimeout)
		}
		return Dimensions{}, fmt.Errorf("%w: %v", models.ErrProbeFailed, err)
	}
	if res.ExitCode != 0 {
		return Dimensions{}, fmt.Errorf("%w: exit status %d: %s",
			models.ErrProbeFailed, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	dims, err := ParseProbeOutput(res.Stdout)
	if err != nil {
		span.RecordError(err)
		return Dimensions{}, err
	}

	span.SetAttributes(
		attribute.Int("video.width", dims.Width),
		attribute.Int("video.height", dims.Height),
	)
	return dims, nil
}

// ParseProbeOutput extracts streams[0].width and streams[0].height.
func ParseProbeOutput(data []byte) (Dimensions, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Dimensions{}, fmt.Errorf("%w: invalid ffprobe output: %v", models.ErrProbeFailed, err)
	}
	if len(out.Streams) == 0 {
		return Dimensions{}, fmt.Errorf("%w: no video stream found", models.ErrProbeFailed)
	}

	stream := out.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: missing stream dimensions (%dx%d)",
			models.ErrProbeFailed, stream.Width, stream.Height)
	}

	return Dimensions{Width: stream.Width, Height: stream.Height}, nil
}
