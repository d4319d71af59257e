package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"iptracker/internal/support"
)

const (
	tokenIssuer   = "iptracker"
	TokenLifetime = 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")

	secretOnce sync.Once
	secret     []byte
)

func jwtSecret() []byte {
	secretOnce.Do(func() {
		if value := support.GetEnv("JWT_SECRET", ""); value != "" {
			secret = []byte(value)
			return
		}

		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("auth: generate jwt secret: %v", err))
		}
		secret = []byte(hex.EncodeToString(buf))
		log.Warn("JWT_SECRET is not set, tokens will not survive a restart")
	})
	return secret
}

func GenerateJWT(userID uint, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"iss":     tokenIssuer,
		"iat":     now.Unix(),
		"exp":     now.Add(TokenLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret())
}

func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return jwtSecret(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserIDFromClaims reads the numeric user id; JSON numbers decode as float64.
func UserIDFromClaims(claims jwt.MapClaims) (uint, bool) {
	raw, ok := claims["user_id"].(float64)
	if !ok || raw <= 0 {
		return 0, false
	}
	return uint(raw), true
}

func RoleFromClaims(claims jwt.MapClaims) string {
	role, _ := claims["role"].(string)
	return role
}
