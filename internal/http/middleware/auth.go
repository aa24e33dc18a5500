package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidPIN is returned when a reset PIN does not match.
var ErrInvalidPIN = errors.New("invalid pin")

const operatorKey = "operator"

// HashPIN uses bcrypt to hash a plaintext PIN.
func HashPIN(plain string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPIN compares a bcrypt hash with the plaintext. An empty hash never matches.
func CheckPIN(hash, plain string) error {
	if hash == "" || plain == "" {
		return ErrInvalidPIN
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)); err != nil {
		return ErrInvalidPIN
	}
	return nil
}

// GetOperator returns the token subject set by JWTMiddleware.
func GetOperator(c *gin.Context) (string, bool) {
	v, exists := c.Get(operatorKey)
	if !exists {
		return "", false
	}
	sub, ok := v.(string)
	return sub, ok && sub != ""
}
