package domain

import (
	"strings"
	"time"
)

// EventType classifies a detected change
type EventType string

const (
	// EventCreated marks an entry created after the previous cursor
	EventCreated EventType = "created"

	// EventUpdated marks any other entry modified after the previous cursor
	EventUpdated EventType = "updated"
)

// IsValid checks if the event type is a known value
func (t EventType) IsValid() bool {
	switch t {
	case EventCreated, EventUpdated:
		return true
	}
	return false
}

// ChangeEvent is one detected change, built once per poll cycle and never mutated
type ChangeEvent struct {
	// FolderID is the watched root
	FolderID string `json:"folder_id"`

	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`

	// RelativePath runs from the watched root to the entry; the last
	// segment is FileName
	RelativePath []string `json:"relative_path"`

	Type EventType `json:"event_type"`

	// DetectedAt is the wall-clock emission time
	DetectedAt time.Time `json:"event_detected_at"`

	FileCreatedAt  time.Time `json:"file_created_at"`
	FileModifiedAt time.Time `json:"file_modified_at"`

	Size        *int64 `json:"size,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	MD5Checksum string `json:"md5_checksum,omitempty"`
	IsFolder    bool   `json:"is_folder"`
}

// Path joins RelativePath with forward slashes
func (e ChangeEvent) Path() string {
	return strings.Join(e.RelativePath, "/")
}

// IsNative returns true for Drive-native documents without raw content
func (e ChangeEvent) IsNative() bool {
	return strings.HasPrefix(e.MimeType, nativeMimePrefix)
}
