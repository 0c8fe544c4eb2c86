// Package noop provides an authenticator that admits every caller as an
// anonymous identity. Used for development and as a default voter in the
// auth chain.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/quotagate/pkg/auth"
)

// Authenticator always returns Yes with an anonymous identity keyed by the
// caller's source address. Tier defaults to auth.DefaultAnonymousTier.
type Authenticator struct {
	Tier string
}

func (a *Authenticator) Authenticate(ctx context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: auth.AnonymousIdentity(auth.AddressFromContext(ctx), a.Tier),
	}
}
