package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxDisplayName
	ctxRole
	ctxAccessToken
)

func WithIdentity(ctx context.Context, userID, displayName, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxDisplayName, displayName)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

// WithAccessToken stores the raw bearer token so outbound calls can act on the caller's behalf.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxAccessToken, token)
}

func UserID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxUserID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

// DisplayName is optional; it returns "" when absent.
func DisplayName(ctx context.Context) string {
	s, _ := ctx.Value(ctxDisplayName).(string)
	return s
}

func Role(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxRole).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// AccessToken returns the caller's bearer token, or "" when none was stored.
func AccessToken(ctx context.Context) string {
	s, _ := ctx.Value(ctxAccessToken).(string)
	return s
}
