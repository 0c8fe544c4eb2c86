package auth

import (
	"context"
	"errors"
	"net/http"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated only when Decision == No
}

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier (required, non-empty).
	Subject string

	// ServiceTier is the caller's subscription tier as asserted by the
	// credential. It is validated by admission control, not here.
	ServiceTier string

	// Scopes lists the authorization scopes granted.
	Scopes []string

	// Metadata carries auth-provider-specific data.
	Metadata map[string]string

	// Anonymous is set for identities synthesized when no credential was
	// presented.
	Anonymous bool
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// DefaultAnonymousTier is the tier given to anonymous callers when none is
// configured.
const DefaultAnonymousTier = "free"

// AnonymousSubject returns the subject used for an unauthenticated caller
// at address. Anonymous callers are metered per source address.
func AnonymousSubject(address string) string {
	if address == "" {
		return "anon"
	}
	return "anon:" + address
}

// AnonymousIdentity builds the identity for an unauthenticated caller.
func AnonymousIdentity(address, tier string) *Identity {
	if tier == "" {
		tier = DefaultAnonymousTier
	}
	return &Identity{
		Subject:     AnonymousSubject(address),
		ServiceTier: tier,
		Anonymous:   true,
	}
}

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator

	// DefaultDecision is used when all authenticators abstain.
	// Use Yes to admit anonymous callers or No for production.
	DefaultDecision AuthDecision

	// AnonymousTier is the tier of the anonymous identity produced when
	// DefaultDecision is Yes. Empty means DefaultAnonymousTier.
	AnonymousTier string
}

// Authenticate runs the chain. Stops on the first Yes or No.
// If all abstain, returns the default decision.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		return AuthResult{
			Decision: Yes,
			Identity: AnonymousIdentity(AddressFromContext(ctx), c.AnonymousTier),
		}
	}

	return AuthResult{
		Decision: No,
		Err:      ErrUnauthenticated,
	}
}
