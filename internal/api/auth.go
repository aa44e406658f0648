package api

import (
	"fmt"
	"net/http"

	"github.com/collabcode/relay/internal/types"
	"github.com/golang-jwt/jwt"
)

const (
	userIdClaim   = "userId"
	usernameClaim = "username"
)

// identityFromRequest resolves the already-authenticated identity supplied
// at handshake time. With a signing key configured the identity comes from
// a signed token minted by the web application; otherwise the relay trusts
// the query parameters, which an upstream proxy has validated.
func (s *RelayApp) identityFromRequest(r *http.Request) (types.User, error) {
	q := r.URL.Query()

	if len(s.signingKey) > 0 {
		return s.identityFromToken(q.Get("token"))
	}

	user := types.User{
		Id:       q.Get("userId"),
		Username: q.Get("username"),
	}
	if user.Id == "" || user.Username == "" {
		return types.User{}, fmt.Errorf("missing userId or username")
	}

	return user, nil
}

func (s *RelayApp) identityFromToken(tokenString string) (types.User, error) {
	if tokenString == "" {
		return types.User{}, fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return types.User{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return types.User{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, _ := claims[userIdClaim].(string)
	username, _ := claims[usernameClaim].(string)
	if userId == "" || username == "" {
		return types.User{}, fmt.Errorf("token missing identity claims")
	}

	return types.User{Id: userId, Username: username}, nil
}
