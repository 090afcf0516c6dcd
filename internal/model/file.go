package model

import (
	"path"
	"strings"
)

// AttachedFile is a plain attachment uploaded alongside a post. Immutable once created.
type AttachedFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MediaType classifies inline media.
type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaVideo   MediaType = "video"
	MediaUnknown MediaType = "unknown"
)

// FileStatus is the lifecycle state of a MediaRecord.
type FileStatus string

const (
	StatusDraft    FileStatus = "DRAFT"
	StatusUploaded FileStatus = "UPLOADED"
	StatusDeleted  FileStatus = "DELETED"
)

// MediaRecord is an inline media file referenced from a post's content.
// ID is the placeholder token in content until upload; URL is a local data URL while DRAFT
// and the durable store address once UPLOADED.
type MediaRecord struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	URL    string     `json:"url"`
	Type   MediaType  `json:"type"`
	Status FileStatus `json:"status,omitempty"`
}

// Uploaded reports whether the record already points at a durable file.
func (m MediaRecord) Uploaded() bool {
	return m.Status == StatusUploaded
}

// MediaTypeFromName guesses the media type from a file extension.
func MediaTypeFromName(name string) MediaType {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp4", ".mov", ".webm":
		return MediaVideo
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg":
		return MediaImage
	default:
		return MediaUnknown
	}
}
