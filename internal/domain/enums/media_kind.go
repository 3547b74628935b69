package enums

import "strings"

type MediaKind string

const (
	MediaKindImage   MediaKind = "image"
	MediaKindVideo   MediaKind = "video"
	MediaKindRemoved MediaKind = "removed"
)

func ParseMediaKind(value string) (MediaKind, bool) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(value))) {
	case MediaKindImage:
		return MediaKindImage, true
	case MediaKindVideo:
		return MediaKindVideo, true
	case MediaKindRemoved:
		return MediaKindRemoved, true
	default:
		return "", false
	}
}
