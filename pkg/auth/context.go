package auth

import "context"

type (
	identityKey struct{}
	addressKey  struct{}
)

// SetIdentity stores the authenticated identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity.
// Returns nil if no identity is set.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// SetAddress stores the caller's source-address token in the context.
func SetAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, addressKey{}, addr)
}

// AddressFromContext returns the source-address token, or "".
func AddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(addressKey{}).(string); ok {
		return v
	}
	return ""
}
