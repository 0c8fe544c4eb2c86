package admission

import (
	"net"
	"net/http"
	"strings"

	"github.com/rhuss/quotagate/pkg/auth"
)

// TrustedHeaderAddress returns an auth.AddressFunc that takes the client
// address from header, as set by a trusted reverse proxy. For
// X-Forwarded-For style lists the left-most entry is used. When the header
// is absent the connection's remote host is used.
func TrustedHeaderAddress(header string) auth.AddressFunc {
	if header == "" {
		return auth.RemoteHost
	}
	return func(r *http.Request) string {
		v := r.Header.Get(header)
		if v == "" {
			return auth.RemoteHost(r)
		}
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		v = strings.TrimSpace(v)
		if host, _, err := net.SplitHostPort(v); err == nil {
			return host
		}
		return strings.Trim(v, "[]")
	}
}
