package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/chatsync/internal/config"
)

// ErrNoUserID is returned when a token carries no user id claim.
var ErrNoUserID = errors.New("token has no user id claim")

// UserIDFromToken reads the user id from an access token's claims. The
// signature is not verified: the server does that on every connection.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range []string{"userId", "id", "_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", ErrNoUserID
}

// UserID returns the configured user id, falling back to the token's claims.
func UserID(cfg *config.Config) (string, error) {
	if cfg.Server.UserID != "" {
		return cfg.Server.UserID, nil
	}
	return UserIDFromToken(cfg.Server.Token)
}
