package media

import "errors"

var (
	ErrValidation             = errors.New("validation error")
	ErrStreamUnreadable       = errors.New("stream unreadable")
	ErrUnsupportedMedia       = errors.New("unsupported media")
	ErrPayloadTooLarge        = errors.New("payload too large")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrRemoteFetchFailed      = errors.New("remote fetch failed")
	ErrUploadFailed           = errors.New("upload failed")
	ErrNotFound               = errors.New("media not found")

	// ErrDuplicateCreate is returned by Store.Create when a row with the same
	// digest already exists. The pipeline collapses it into a dedup hit.
	ErrDuplicateCreate = errors.New("duplicate create race")
)

// IsRejection reports whether err means the input itself is unacceptable.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnsupportedMedia) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrUnsupportedContentType) ||
		errors.Is(err, ErrStreamUnreadable)
}

// IsRetryable reports whether the caller may retry the same input later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteFetchFailed) || errors.Is(err, ErrUploadFailed)
}
