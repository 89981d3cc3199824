// Package auth implements the pluggable credential check run before
// dispatch on the stdio and WebSocket surfaces. The plain HTTP endpoints
// do not consult it.
package auth

import (
	"context"
	"crypto/subtle"
)

// CredentialChecker authorizes an inbound request. token is whatever the
// transport extracted (a stdio request field or a WS subscribe message
// field) - empty string if the caller supplied none.
type CredentialChecker interface {
	Check(ctx context.Context, token string) bool
}

// NoOpChecker allows every request, the default when no credential is
// configured.
type NoOpChecker struct{}

// Check always returns true.
func (NoOpChecker) Check(context.Context, string) bool { return true }

// StaticTokenChecker allows requests bearing exactly the configured
// token, compared in constant time.
type StaticTokenChecker struct {
	token []byte
}

// NewStaticTokenChecker builds a checker requiring the given token.
func NewStaticTokenChecker(token string) *StaticTokenChecker {
	return &StaticTokenChecker{token: []byte(token)}
}

// Check compares the supplied token against the configured one.
func (c *StaticTokenChecker) Check(_ context.Context, token string) bool {
	if len(token) != len(c.token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), c.token) == 1
}
