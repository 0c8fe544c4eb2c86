// Package transport provides the HTTP middleware chain and JSON error
// helpers shared by the quota gateway's handlers.
//
// # Middleware
//
// Middleware wraps an http.Handler with cross-cutting concerns. Built-in
// middleware provides panic recovery, request ID assignment (X-Request-ID,
// UUIDv4 via github.com/google/uuid), request body limits, and structured
// logging via log/slog. Chain composes middleware outermost-first.
//
// # Errors
//
// WriteAPIError serializes a pkg/api APIError using the {"error": {...}}
// envelope and derives the status code from the error type. Quota denials
// use their own payload and are written by pkg/admission.
//
// Subpackages provide the HTTP server lifecycle (transport/http) and the
// downstream reverse proxy (transport/proxy).
package transport
