package model

import (
	"time"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/enums"
)

// MediaAsset is one deduplicated piece of content. ID is the hex SHA-256 of
// the original bytes and is never taken from the caller.
type MediaAsset struct {
	ID          string          `json:"id"`
	Kind        enums.MediaKind `json:"kind"`
	DisplayURL  string          `json:"display_url"`
	Backend     string          `json:"backend"`
	Remote      *RemoteRefs     `json:"remote,omitempty"`
	SourceURL   string          `json:"source_url,omitempty"`
	ContentType string          `json:"content_type"`
	SizeBytes   int64           `json:"size_bytes"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	CreatedAt   time.Time       `json:"created_at"`
	RemovedAt   *time.Time      `json:"removed_at,omitempty"`
}

// RemoteRefs holds the opaque blob store tokens of every stored variant.
type RemoteRefs struct {
	PrimaryRef       string `json:"primary_ref"`
	PreviewRef       string `json:"preview_ref"`
	SquarePreviewRef string `json:"square_preview_ref"`
}

func (r RemoteRefs) Tokens() []string {
	out := make([]string, 0, 3)
	for _, token := range []string{r.PrimaryRef, r.PreviewRef, r.SquarePreviewRef} {
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func (a MediaAsset) IsRemoved() bool {
	return a.Kind == enums.MediaKindRemoved
}
