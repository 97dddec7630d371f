package httpserver

import (
	"errors"
	"net/http"

	"notification-service/internal/realtime"
	"notification-service/pkg/auth"
)

var errMissingToken = errors.New("missing token")

// WSAuthenticator reads the bearer token from the Authorization header or,
// for browsers, the token query parameter.
func WSAuthenticator(jwtSecret string) realtime.Authenticator {
	return func(r *http.Request) (string, error) {
		token := auth.ExtractToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			return "", errMissingToken
		}

		claims, err := auth.ParseJWT(token, jwtSecret)
		if err != nil {
			return "", err
		}
		return claims.UserID, nil
	}
}
