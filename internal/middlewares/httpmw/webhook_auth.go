package httpmw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// WebhookAuth requires an HS256 signed bearer token on broker callbacks.
// An empty secret disables the check.
func WebhookAuth(secret string, logger zerolog.Logger) Middleware {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := verifyBearer(r.Header.Get("Authorization"), key); err != nil {
				logger.Warn().Err(err).Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Webhook authentication failed")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyBearer(header string, key []byte) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return errors.New("missing bearer token")
	}
	_, err := jwt.Parse(strings.TrimSpace(raw), func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err
}
