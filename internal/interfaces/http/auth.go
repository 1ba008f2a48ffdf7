package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

const callerKey = "caller"

// Identity headers accepted when AuthConfig.AllowHeaderIdentity is set
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
	HeaderUserRole  = "X-User-Role"
)

// AuthConfig holds token verification settings
type AuthConfig struct {
	Secret              []byte
	Issuer              string
	AllowHeaderIdentity bool
}

// Claims is the token payload carrying a caller identity
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for caller valid for ttl
func IssueToken(cfg AuthConfig, caller entity.Caller, ttl time.Duration) (string, time.Time, error) {
	if len(cfg.Secret) == 0 {
		return "", time.Time{}, errors.New("signing secret is empty")
	}
	if !caller.Role.IsValid() {
		return "", time.Time{}, fmt.Errorf("unknown role %q", caller.Role)
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Email: caller.Email,
		Name:  caller.Name,
		Role:  string(caller.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    cfg.Issuer,
			Subject:   caller.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken verifies a signed token and returns its caller
func ParseToken(cfg AuthConfig, raw string) (entity.Caller, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return entity.Caller{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return entity.Caller{}, errors.New("invalid token claims")
	}

	caller := entity.Caller{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Role:   entity.Role(claims.Role),
	}
	if !caller.Role.IsValid() {
		return entity.Caller{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return caller, nil
}

// authMiddleware resolves the caller from a bearer token, or from identity
// headers when allowed, and rejects the request otherwise
func authMiddleware(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := resolveCaller(cfg, c)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func resolveCaller(cfg AuthConfig, c *gin.Context) (entity.Caller, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || len(cfg.Secret) == 0 {
			return entity.Caller{}, apperror.Unauthorized(apperror.CodeTokenInvalid, "invalid authorization header")
		}
		caller, err := ParseToken(cfg, strings.TrimSpace(parts[1]))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			return entity.Caller{}, apperror.Unauthorized(apperror.CodeTokenInvalid, msg).WithCause(err)
		}
		return caller, nil
	}

	if cfg.AllowHeaderIdentity && c.GetHeader(HeaderUserID) != "" {
		caller := entity.Caller{
			UserID: c.GetHeader(HeaderUserID),
			Email:  c.GetHeader(HeaderUserEmail),
			Name:   c.GetHeader(HeaderUserName),
			Role:   entity.Role(c.GetHeader(HeaderUserRole)),
		}
		if !caller.Role.IsValid() {
			return entity.Caller{}, apperror.Unauthorized(apperror.CodeAuthRequired, "unknown role").
				WithParams(map[string]interface{}{"role": string(caller.Role)})
		}
		return caller, nil
	}

	return entity.Caller{}, apperror.Unauthorized(apperror.CodeAuthRequired, "authentication required")
}

// callerFrom returns the caller set by authMiddleware
func callerFrom(c *gin.Context) entity.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(entity.Caller); ok {
			return caller
		}
	}
	return entity.Caller{}
}
