package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"deltahedge/pkg/crypto"
)

type contextKey int

const userIDKey contextKey = iota

// UserID извлекает идентификатор пользователя из context запроса.
// Возвращает false если запрос прошёл мимо UserAuth.
func UserID(r *http.Request) (int, bool) {
	id, ok := r.Context().Value(userIDKey).(int)
	return id, ok
}

// WithUserID кладёт идентификатор пользователя в context запроса.
// Используется в тестах handlers, минуя UserAuth.
func WithUserID(r *http.Request, userID int) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

// UserAuth - идентификация пользователя для user-scoped endpoints.
//
// Доверяет заголовку X-User-ID от фронта/реверс-прокси, который
// уже выполнил аутентификацию сессии. Сервис не хранит пользователей
// и не проверяет пароли - изоляция обеспечивается тем, что каждый
// репозиторий фильтрует по user_id из context.
func UserAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-User-ID")
		if raw == "" {
			http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
			return
		}
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			http.Error(w, "invalid X-User-ID header", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, WithUserID(r, id))
	})
}

// AdminAuth - защита админских endpoints (пауза, breaker'ы).
//
// Ожидает Authorization: Bearer <token>. Токен сравнивается
// constant-time против ADMIN_TOKEN либо проверяется через
// ADMIN_TOKEN_BCRYPT (pkg/crypto).
func AdminAuth(rawToken, bcryptHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if err := crypto.VerifyAdminToken(presented, rawToken, bcryptHash); err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
