// Package auth verifies the JWT tokens websocket clients present in
// their auth message. Tokens are signed with HS256 using the configured
// jwt_secret; the user id lives in the "sub" claim.
package auth
