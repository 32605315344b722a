package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const deviceIDKey contextKey = "deviceID"

// issueDeviceToken mints the bearer credential a device presents on its
// status, event-stream and callback requests.
func (s *Server) issueDeviceToken(deviceID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	})
	return token.SignedString(s.jwtSecret)
}

func (s *Server) verifyDeviceToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token carries no device id")
	}
	return claims.Subject, nil
}

// requireDeviceToken authenticates the device credential.  The token rides in
// the Authorization header, or in a token query parameter for EventSource
// clients that cannot set headers.  When the route names a device, the token
// must belong to it.
func (s *Server) requireDeviceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			unauthorized(w, r, "missing device credential")
			return
		}

		deviceID, err := s.verifyDeviceToken(raw)
		if err != nil {
			unauthorized(w, r, "invalid device credential")
			return
		}

		if want := chi.URLParam(r, "deviceID"); want != "" && want != deviceID {
			unauthorized(w, r, "credential does not match device")
			return
		}

		ctx := context.WithValue(r.Context(), deviceIDKey, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func deviceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}
