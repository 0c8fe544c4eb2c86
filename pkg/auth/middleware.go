package auth

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/rhuss/quotagate/pkg/api"
	"github.com/rhuss/quotagate/pkg/observability"
	"github.com/rhuss/quotagate/pkg/transport"
)

// AddressFunc resolves the caller's source-address token for a request.
type AddressFunc func(*http.Request) string

// RemoteHost returns the host part of r.RemoteAddr, or RemoteAddr itself
// when it has no port.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware creates HTTP middleware from an AuthChain. It resolves the
// caller's address, checks the bypass list, runs authentication and
// injects the identity into the request context. A nil addressFn uses
// RemoteHost.
func Middleware(chain *AuthChain, addressFn AddressFunc, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}
	if addressFn == nil {
		addressFn = RemoteHost
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			addr := addressFn(r)
			ctx := SetAddress(r.Context(), addr)

			result := chain.Authenticate(ctx, r)

			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"address", addr,
					"error", result.Err,
				)
				observability.AuthRejectedTotal.WithLabelValues("unauthenticated").Inc()
				transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
				return
			}

			if result.Identity.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				observability.AuthRejectedTotal.WithLabelValues("empty_subject").Inc()
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			slog.Debug("authentication succeeded",
				"subject", result.Identity.Subject,
				"tier", result.Identity.ServiceTier,
				"anonymous", result.Identity.Anonymous,
				"path", r.URL.Path,
			)

			next.ServeHTTP(w, r.WithContext(SetIdentity(ctx, result.Identity)))
		})
	}
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}
