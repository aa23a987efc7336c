package authUtils

import (
	"fmt"
	"time"

	"civicsync-dispatch/models"

	"github.com/dgrijalva/jwt-go"
	"github.com/m-mizutani/goerr/v2"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 72 * time.Hour

var ErrInvalidToken = goerr.New("invalid authorization token")

// Claims is what the API needs to know about the caller.
type Claims struct {
	UserID string
	Role   models.Role
}

// GenerateToken signs an HS256 token for the given user.
func GenerateToken(secret, userID string, role models.Role) (string, error) {
	if secret == "" {
		return "", goerr.New("JWT secret is not configured")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"exp":     time.Now().Add(TokenTTL).Unix(),
	})

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", goerr.Wrap(err, "failed to sign token")
	}
	return tokenString, nil
}

// ParseToken validates tokenString and extracts its claims. Tokens without a
// role claim belong to citizens.
func ParseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, goerr.Wrap(ErrInvalidToken, "token validation failed", goerr.V("cause", fmt.Sprint(err)))
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, goerr.Wrap(ErrInvalidToken, "unexpected claims type")
	}
	userID, _ := mapClaims["user_id"].(string)
	if userID == "" {
		return nil, goerr.Wrap(ErrInvalidToken, "token has no user_id")
	}

	claims := &Claims{UserID: userID, Role: models.RoleCitizen}
	if role, _ := mapClaims["role"].(string); role != "" {
		claims.Role = models.Role(role)
	}
	return claims, nil
}
