package auth

import "errors"

var (
	// ErrNoCredentials indicates no token has been loaded or set.
	ErrNoCredentials = errors.New("no credentials available")
	// ErrReauthRequired indicates the refresh token was rejected and the user
	// must sign in again.
	ErrReauthRequired = errors.New("re-authentication required")
)
