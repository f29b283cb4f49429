package vault

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// LargeFileThreshold is the size above which playback is routed through the
// large-file relay origin instead of the chat platform's direct file URLs.
// Files at exactly the threshold still take the direct path.
const LargeFileThreshold = 20 << 20 // 20 MiB

// VideoRecord is the stored metadata for one uploaded video. All fields except
// Views are immutable after creation; Views is incremented on each authorized
// stream request.
type VideoRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// FileID and MessageID together form the handle needed to re-resolve the
	// underlying bytes from the chat platform: FileID addresses the stored
	// attachment, MessageID the message envelope that carries it.
	FileID    string `json:"fileId"`
	MessageID string `json:"messageId"`

	FileSize   int64     `json:"fileSize"`
	Duration   float64   `json:"duration"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	MimeType   string    `json:"mimeType"`
	UploadDate time.Time `json:"uploadDate"`
	Views      int64     `json:"views"`
}

// IsLarge reports whether playback of this record goes through the
// large-file relay origin.
func (r *VideoRecord) IsLarge() bool {
	return r.FileSize > LargeFileThreshold
}

// VideoSummary is the catalog-listing projection of a VideoRecord.
type VideoSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Duration    float64   `json:"duration"`
	Views       int64     `json:"views"`
	UploadDate  time.Time `json:"uploadDate"`
	FileSize    int64     `json:"fileSize"`
}

// Summary returns the listing projection of the record.
func (r *VideoRecord) Summary() VideoSummary {
	return VideoSummary{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Duration:    r.Duration,
		Views:       r.Views,
		UploadDate:  r.UploadDate,
		FileSize:    r.FileSize,
	}
}

// VideoDetails is a VideoRecord plus a freshly minted stream URL.
type VideoDetails struct {
	VideoRecord
	StreamURL string `json:"streamUrl"`
}

// NewVideoID returns a new opaque video identifier: a random UUID's 16 bytes
// hex-encoded, giving a fixed 32-character lowercase id.
func NewVideoID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
