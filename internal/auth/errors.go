package auth

import "errors"

// ErrTokenInvalid is returned for any token that fails parsing, signature,
// issuer, audience or expiry checks.
var ErrTokenInvalid = errors.New("invalid token")
