package auth

import "context"

type identityContextKey string

const identityKey identityContextKey = "auth_identity"

// Identity describes the caller of a media request. Privileged callers get the
// larger upload cap and may remove media.
type Identity struct {
	Privileged bool
	RemoteAddr string
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// IsPrivileged reports false when no identity is attached.
func IsPrivileged(ctx context.Context) bool {
	identity, ok := IdentityFromContext(ctx)
	return ok && identity.Privileged
}
