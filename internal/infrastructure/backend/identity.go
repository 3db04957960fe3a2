package backend

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoIdentity is returned when neither a user id nor an access token is configured.
var ErrNoIdentity = errors.New("no user identity: set PHANTOM_ACCESS_TOKEN")

// UserID returns the pinned user id or the subject of the access token.
// The token is issued by the identity provider and verified by the backend,
// so only its claims are read here.
func (c *Client) UserID() (string, error) {
	if c.userID != "" {
		return c.userID, nil
	}
	token := c.token()
	if token == "" {
		return "", ErrNoIdentity
	}
	return SubjectFromToken(token)
}

// SubjectFromToken extracts the sub claim without verifying the signature.
func SubjectFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse access token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read sub claim: %w", err)
	}
	if sub == "" {
		return "", errors.New("access token has no sub claim")
	}
	return sub, nil
}
