package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracewire/internal/logging"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a verifier from cfg. It returns nil when
// verification is disabled.
func NewVerifier(cfg *Config) *Verifier {
	if !cfg.Enabled() {
		return nil
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		// Numeric ids such as oid stay exact instead of becoming float64.
		jwt.WithJSONNumber(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Verifier{
		secret: []byte(cfg.JWTSecret.Value()),
		parser: jwt.NewParser(opts...),
	}
}

// Verify parses an Authorization header value and returns the caller's
// identity.
func (v *Verifier) Verify(authorization string) (*Identity, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Identity{Claims: claims}, nil
}

// Middleware verifies the Authorization header and stores the identity on
// the request context. Requests without a valid token continue as
// anonymous; no route here requires authentication.
func Middleware(cfg *Config, logger *logging.Logger) echo.MiddlewareFunc {
	verifier := NewVerifier(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if verifier == nil {
				return next(c)
			}
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return next(c)
			}

			req := c.Request()
			id, err := verifier.Verify(header)
			if err != nil {
				logger.Debug(req.Context(), "bearer token rejected", zap.Error(err))
				return next(c)
			}

			c.SetRequest(req.WithContext(WithIdentity(req.Context(), id)))
			return next(c)
		}
	}
}
