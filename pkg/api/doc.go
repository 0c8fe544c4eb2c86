// Package api defines the wire types exchanged with callers of the quota
// gateway: structured errors, the quota denial payload, and the usage
// report.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O.
//
// Core types:
//   - [APIError]: Structured error with type, code, param, and message
//   - [QuotaDenial]: Body of a 429 response produced by admission control
//   - [UsageReport]: Per-dimension usage returned by GET /quota/usage
package api
