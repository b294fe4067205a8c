package identity

import (
	"context"
)

var accountCtxKey = &contextKey{"account"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithContext sets the Account in the given context
func WithContext(r context.Context, account *Account) context.Context {
	return context.WithValue(r, accountCtxKey, account)
}

// FromContext finds the account from the context.
func FromContext(ctx context.Context) (*Account, bool) {
	raw, ok := ctx.Value(accountCtxKey).(*Account)
	return raw, ok
}

// WithClaimsContext sets the SessionClaims in the given context
func WithClaimsContext(r context.Context, claims SessionClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the SessionClaims from the standard context
func GetClaims(ctx context.Context) (SessionClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(SessionClaims)
	return raw, ok
}

// Can is a convenience function to check permissions directly from the context.
func Can(ctx context.Context, permission string) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}

	switch permission {
	case "read":
		return claims.Role.CanRead()
	case "edit":
		return claims.Role.CanEdit()
	case "create":
		return claims.Role.CanCreate()
	case "delete":
		return claims.Role.CanDelete()
	default:
		return false
	}
}
