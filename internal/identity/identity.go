// Package identity verifies bearer tokens and exposes the caller's claims
// to the rest of the request pipeline.
package identity

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Anonymous is reported for UserId and UserName when no identity is known.
const Anonymous = "anonymous"

// DefaultUserIDClaims is the claim chain used when none is configured.
var DefaultUserIDClaims = []string{"sub", "oid"}

// Identity is the verified claim set of the authenticated caller.
type Identity struct {
	Claims map[string]any
}

// Claim returns the string value of name, or "" when absent or not a
// scalar.
func (id *Identity) Claim(name string) string {
	if id == nil || id.Claims == nil {
		return ""
	}
	switch v := id.Claims[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

type identityCtxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext returns the identity stored on ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*Identity)
	return id
}

// ResolveUserID walks chain in order and returns the first non-empty claim,
// or Anonymous. A nil identity or empty chain yields Anonymous.
func ResolveUserID(id *Identity, chain []string) string {
	for _, name := range chain {
		if v := id.Claim(name); v != "" {
			return v
		}
	}
	return Anonymous
}

// ResolveUserName returns the "name" claim, then "preferred_username", or
// Anonymous.
func ResolveUserName(id *Identity) string {
	for _, name := range []string{"name", "preferred_username"} {
		if v := id.Claim(name); v != "" {
			return v
		}
	}
	return Anonymous
}
