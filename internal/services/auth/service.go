package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// AdminToken checks the shared admin token sent by moderators. An empty
// configured token disables privileged access entirely.
type AdminToken struct {
	token []byte
}

func NewAdminToken(token string) *AdminToken {
	return &AdminToken{token: []byte(strings.TrimSpace(token))}
}

func (a *AdminToken) Enabled() bool {
	return a != nil && len(a.token) > 0
}

// Check treats an empty presented token as an anonymous caller. A wrong
// token is ErrUnauthorized.
func (a *AdminToken) Check(presented string) (bool, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return false, nil
	}
	if !a.Enabled() {
		return false, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), a.token) != 1 {
		return false, ErrUnauthorized
	}
	return true, nil
}
