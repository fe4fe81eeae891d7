package key

import "errors"

var (
	ErrInvalidExpiry     = errors.New("invalid expiry format, use 1H, 1D, 1M, 1Y")
	ErrInvalidPermission = errors.New("invalid permission")
	ErrKeyLimitReached   = errors.New("maximum number of active keys reached")
	ErrKeyNotFound       = errors.New("api key not found")
	ErrKeyStillActive    = errors.New("api key is still active")

	// ErrUnauthorized is the single opaque failure Authorize returns.
	// Missing key, revoked key, expired key, and missing permission are
	// deliberately indistinguishable to the caller.
	ErrUnauthorized = errors.New("unauthorized")
)
