package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/brojonat/bountypay/http/api"
)

// UserStatus is the privilege level carried in bearer tokens.
type UserStatus int

const (
	UserStatusDefault UserStatus = 0
	UserStatusSudo    UserStatus = 1
)

const sudoTokenTTL = 2 * 7 * 24 * time.Hour

func generateAccessToken(secret string, claims authJWTClaims) (string, error) {
	t := jwt.New(jwt.SigningMethodHS256)
	t.Claims = claims
	return t.SignedString([]byte(secret))
}

func handleIssueSudoToken(l *slog.Logger, gsk func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := r.Context().Value(ctxKeyEmail).(string)
		if !ok {
			writeInternalError(l, w, fmt.Errorf("missing context key for basic auth email"))
			return
		}
		c := authJWTClaims{
			StandardClaims: jwt.StandardClaims{
				ExpiresAt: time.Now().Add(sudoTokenTTL).Unix(),
			},
			Email:  email,
			Status: UserStatusSudo,
		}
		token, err := generateAccessToken(gsk(), c)
		if err != nil {
			writeInternalError(l, w, fmt.Errorf("failed to sign token: %w", err))
			return
		}
		writeJSONResponse(w, api.DefaultJSONResponse{Message: token}, http.StatusOK)
	}
}
