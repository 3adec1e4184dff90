// Package auth issues and checks presence tokens.
//
// A device that knows its password can trade it for a short-lived HS256
// JWT whose subject is the device identifier. The token grants read access
// to that device's presence endpoint and nothing else. Tokens are checked
// by signature, issuer, audience and expiry only; there is no revocation
// list.
package auth
