// Package auth resolves the caller identity and subscription tier for
// quota admission.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain; when it admits, the caller becomes an
// anonymous identity keyed by source address.
//
// Auth is implemented as HTTP middleware that runs before admission
// control. It records the source address and the identity in the request
// context. The tier it carries is an assertion from the credential;
// admission control rejects tiers it does not know.
package auth
