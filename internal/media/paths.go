package media

import (
	"fmt"
	"path/filepath"
)

// ProcessedSuffix is appended to an input path to name its fast-start copy.
const ProcessedSuffix = ".processing"

// RawUploadPath returns the buffered upload path for a video.
func RawUploadPath(dir, videoID string) string {
	return filepath.Join(dir, fmt.Sprintf("upload-%s.mp4", videoID))
}

// ProcessedPath returns the fast-start output path for inputPath.
func ProcessedPath(inputPath string) string {
	return inputPath + ProcessedSuffix
}

// StorageKey returns the object key for a processed video.
func StorageKey(class AspectClass, videoID string) string {
	return fmt.Sprintf("%s/%s.mp4", class, videoID)
}
