package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for the control API.
// The same access token is forwarded to the signaling gateway, which resolves the caller from it.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	DisplayName string    `json:"name,omitempty"`
	Role        string    `json:"role"`
	TokenType   TokenType `json:"token_type"`
}
