package handlers

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RequireJWT проверяет bearer токен HS256, с пустым секретом проверка выключена
func (h *Handler) RequireJWT(secret string) func(http.Handler) http.Handler {

	return func(next http.Handler) http.Handler {

		if secret == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			raw := ""
			if authz := strings.TrimSpace(r.Header.Get("Authorization")); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				raw = strings.TrimSpace(authz[len("bearer "):])
			}
			if raw == "" {
				h.writeError(w, r, http.StatusUnauthorized, "Нужен bearer токен")
				return
			}

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !tok.Valid {
				h.writeError(w, r, http.StatusUnauthorized, "Недействительный токен")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
