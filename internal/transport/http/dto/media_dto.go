package dto

import "time"

type IngestURLRequest struct {
	URL string `json:"url"`
}

type MediaAssetResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	DisplayURL  string     `json:"display_url"`
	PreviewURL  string     `json:"preview_url,omitempty"`
	SquareURL   string     `json:"square_url,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	SizeBytes   int64      `json:"size_bytes"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	CreatedAt   time.Time  `json:"created_at"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
}
