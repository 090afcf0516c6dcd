package model

import "time"

// Post is the record persisted as posts/<id>.json in the content store.
// Content is markup: plain text interspersed with <img src="ID"/>, <video src="ID"/> and <youtube src="URL"> tags.
type Post struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    *time.Time     `json:"updatedAt,omitempty"`
	Files        []AttachedFile `json:"files"`
	ContentFiles []MediaRecord  `json:"contentFiles"`
}

// Filename is the post's file name inside the posts directory and its entry in the index.
func (p *Post) Filename() string {
	return PostFilename(p.ID)
}

// PostFilename returns "<id>.json".
func PostFilename(id string) string {
	return id + ".json"
}
