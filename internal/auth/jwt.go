package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shenikar/falconwatch/internal/models"
)

// Claims - содержимое bearer-токена сессии
type Claims struct {
	UserID int64  `json:"id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewAccessToken выпускает HS256 токен. Используется в тестах и служебных утилитах,
// сама выдача учетных данных находится во внешнем сервисе.
func NewAccessToken(secret string, ttl time.Duration, userID int64, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken проверяет подпись и срок действия токена
func ParseToken(secret, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", models.ErrAuth)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, jwt.ErrTokenInvalidClaims)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: token has no user id", models.ErrAuth)
	}
	return claims, nil
}

// PeekClaims читает содержимое токена без проверки подписи.
// Годится только для локальных нужд клиента, например ключей хранилища; доверять ему нельзя.
func PeekClaims(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: token has no user id", models.ErrAuth)
	}
	return claims, nil
}
