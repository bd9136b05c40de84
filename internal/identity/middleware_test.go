package identity

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/tracewire/internal/config"
	"github.com/fyrsmithlabs/tracewire/internal/logging"
)

var testSecret = strings.Repeat("k", 32)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func runMiddleware(t *testing.T, cfg *Config, authorization string) (*Identity, *logging.TestLogger) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tl := logging.NewTestLogger()
	var got *Identity
	handler := Middleware(cfg, tl.Logger)(func(c echo.Context) error {
		got = FromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	require.NoError(t, handler(c))
	assert.Equal(t, http.StatusOK, rec.Code, "identity never rejects a request")
	return got, tl
}

func TestMiddleware_ValidToken(t *testing.T) {
	cfg := &Config{JWTSecret: config.Secret(testSecret)}
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "user-1", "name": "Alice"})

	id, _ := runMiddleware(t, cfg, "Bearer "+token)

	require.NotNil(t, id)
	assert.Equal(t, "user-1", ResolveUserID(id, DefaultUserIDClaims))
	assert.Equal(t, "Alice", ResolveUserName(id))
}

func TestMiddleware_NumericClaimsStayExact(t *testing.T) {
	cfg := &Config{JWTSecret: config.Secret(testSecret)}
	token := signToken(t, testSecret, jwt.MapClaims{"oid": 1234567, "uid": int64(12345678901234567)})

	id, _ := runMiddleware(t, cfg, "Bearer "+token)

	require.NotNil(t, id)
	assert.Equal(t, "1234567", ResolveUserID(id, DefaultUserIDClaims))
	assert.Equal(t, "12345678901234567", id.Claim("uid"))
}

func TestMiddleware_WrongSecret(t *testing.T) {
	cfg := &Config{JWTSecret: config.Secret(testSecret)}
	token := signToken(t, strings.Repeat("x", 32), jwt.MapClaims{"sub": "user-1"})

	id, tl := runMiddleware(t, cfg, "Bearer "+token)

	assert.Nil(t, id)
	tl.AssertLogged(t, zapcore.DebugLevel, "bearer token rejected")
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	cfg := &Config{JWTSecret: config.Secret(testSecret)}
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix()})

	id, _ := runMiddleware(t, cfg, "Bearer "+token)
	assert.Nil(t, id)
}

func TestMiddleware_IssuerMismatch(t *testing.T) {
	cfg := &Config{JWTSecret: config.Secret(testSecret), Issuer: "https://issuer.example.com"}
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "user-1", "iss": "https://other.example.com"})

	id, _ := runMiddleware(t, cfg, "Bearer "+token)
	assert.Nil(t, id)
}

func TestMiddleware_NoHeader(t *testing.T) {
	id, _ := runMiddleware(t, &Config{JWTSecret: config.Secret(testSecret)}, "")
	assert.Nil(t, id)
}

func TestMiddleware_Disabled(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "user-1"})

	id, _ := runMiddleware(t, NewDefaultConfig(), "Bearer "+token)
	assert.Nil(t, id, "tokens are ignored when no secret is configured")
}

func TestVerifier_RejectsNonBearer(t *testing.T) {
	v := NewVerifier(&Config{JWTSecret: config.Secret(testSecret)})

	_, err := v.Verify("Basic dXNlcjpwYXNz")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = v.Verify("Bearer not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_RejectsOtherAlgorithms(t *testing.T) {
	v := NewVerifier(&Config{JWTSecret: config.Secret(testSecret)})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = v.Verify("Bearer " + token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.NoError(t, (&Config{JWTSecret: config.Secret(testSecret), Issuer: "x"}).Validate())
	assert.Error(t, (&Config{JWTSecret: config.Secret("short")}).Validate())
	assert.Error(t, (&Config{Issuer: "x"}).Validate())
}
