package media

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/MadarauchiaM/rouzer3.0/internal/domain/enums"
)

const defaultContentType = "application/octet-stream"

// Classification decides which stream feeds the still-image path. Motion
// sources go through frame extraction first.
type Classification struct {
	Kind   enums.MediaKind
	Motion bool
}

func Classify(contentType, fileName string) Classification {
	ct := normalizeContentType(contentType)
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))

	switch {
	case strings.HasPrefix(ct, "video/"):
		return Classification{Kind: enums.MediaKindVideo, Motion: true}
	case ct == "image/gif" || ext == ".gif":
		return Classification{Kind: enums.MediaKindImage, Motion: true}
	default:
		return Classification{Kind: enums.MediaKindImage}
	}
}

func normalizeContentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(value)
	}
	return strings.ToLower(mediaType)
}

// sniffContentType trusts the declared type unless it is missing or generic.
func sniffContentType(data []byte, declared string) string {
	ct := normalizeContentType(declared)
	if ct != "" && ct != defaultContentType {
		return ct
	}
	detected := mimetype.Detect(data)
	if detected == nil {
		return defaultContentType
	}
	return normalizeContentType(detected.String())
}

func extensionFromContentType(contentType string) string {
	ct := normalizeContentType(contentType)
	if ct == "" || ct == defaultContentType {
		return ".bin"
	}
	_, subtype, ok := strings.Cut(ct, "/")
	if !ok || subtype == "" {
		return ".bin"
	}
	return "." + subtype
}

// displayExtension follows the upload file name, falling back to the
// content type subtype for fetched media.
func displayExtension(fileName, contentType string) string {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(fileName)))
	if ext != "" && ext != "." {
		return ext
	}
	return extensionFromContentType(contentType)
}
