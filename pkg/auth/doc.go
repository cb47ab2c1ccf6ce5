// Package auth implements just-in-time OAuth authorization for tool
// invocations. Sessions are keyed by (user, provider, scope set) and move
// through pending -> granted -> expired -> granted(refreshed), with revoked
// reachable from any granted state. Consent is never blocked on: a call
// that needs missing scopes gets a consent URL back and the caller
// re-invokes once the grant completes.
package auth
