package media

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hash returns the hex SHA-256 of everything in r. The stream is rewound
// before and after reading so the caller can consume it again.
func Hash(r io.ReadSeeker) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: nil stream", ErrStreamUnreadable)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: rewind before hash: %v", ErrStreamUnreadable, err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("%w: read for hash: %v", ErrStreamUnreadable, err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: rewind after hash: %v", ErrStreamUnreadable, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
