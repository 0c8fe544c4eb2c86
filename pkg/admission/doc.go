// Package admission enforces quota policy at the HTTP boundary.
//
// Middleware resolves the caller from the auth identity in the request
// context, estimates the request's cost for consumption-weighted
// dimensions, evaluates every dimension configured for the route in the
// fixed evaluation order, and either rejects the request with a 429 denial
// payload or forwards it with a Reservation in the context. Downstream
// code reports the measured cost with ReportCost; the middleware trues up
// the consumption counter once the handler returns.
package admission
