package models

import "time"

// Upload limits
const (
	MaxUploadSize    = 1 << 30 // 1 GiB
	VideoContentType = "video/mp4"
)

// VideoRecord is the persisted metadata for a single video.
// ID and UserID never change after creation. VideoURL is written only
// after the processed file has been stored.
type VideoRecord struct {
	ID           string    `db:"id" dynamodbav:"video_id" json:"id"`
	UserID       string    `db:"user_id" dynamodbav:"user_id" json:"user_id"`
	Title        string    `db:"title" dynamodbav:"title" json:"title"`
	Description  string    `db:"description" dynamodbav:"description" json:"description"`
	ThumbnailURL *string   `db:"thumbnail_url" dynamodbav:"thumbnail_url,omitempty" json:"thumbnail_url"`
	VideoURL     *string   `db:"video_url" dynamodbav:"video_url,omitempty" json:"video_url"`
	CreatedAt    time.Time `db:"created_at" dynamodbav:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" dynamodbav:"updated_at" json:"updated_at"`
}

// IsOwnedBy reports whether the record belongs to the given user.
func (v *VideoRecord) IsOwnedBy(userID string) bool {
	return userID != "" && v.UserID == userID
}

// Validate checks the fields required to create a record.
func (v *VideoRecord) Validate() error {
	if v.ID == "" {
		return ErrMissingVideoID
	}
	if v.Title == "" {
		return ErrMissingTitle
	}
	return nil
}

// VideoProcessedEvent is published after a video's playback URL is recorded.
type VideoProcessedEvent struct {
	VideoID     string `json:"videoId"`
	UserID      string `json:"userId"`
	VideoURL    string `json:"videoUrl"`
	StorageKey  string `json:"storageKey"`
	Aspect      string `json:"aspect"`
	ProcessedAt string `json:"processedAt"`
}
