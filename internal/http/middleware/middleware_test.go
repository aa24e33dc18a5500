package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPIN(t *testing.T) {
	hash, err := HashPIN("4321")
	require.NoError(t, err)

	assert.NoError(t, CheckPIN(hash, "4321"))
	assert.ErrorIs(t, CheckPIN(hash, "1234"), ErrInvalidPIN)
	assert.ErrorIs(t, CheckPIN("", "4321"), ErrInvalidPIN)
	assert.ErrorIs(t, CheckPIN(hash, ""), ErrInvalidPIN)
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/secure", JWTMiddleware("s3cret"), func(c *gin.Context) {
		sub, _ := GetOperator(c)
		c.String(http.StatusOK, sub)
	})

	good, err := GenerateJWT("installer-7", "s3cret", time.Hour)
	require.NoError(t, err)
	wrongKey, err := GenerateJWT("installer-7", "other", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateJWT("installer-7", "s3cret", -time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + good, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + good, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, "installer-7", w.Body.String())
			}
		})
	}
}
