// Package auth issues and checks JWTs for the decision and admin API.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const issuer = "agency-guard"

// User represents an authenticated operator
type User struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func (u User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Claims extends JWT standard claims
type Claims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

type Config struct {
	JWTSecret       string
	TokenExpiration time.Duration
	RequireAuth     bool
	// PublicPaths skip authentication entirely.
	PublicPaths []string
	Users       []Credential
}

type Manager struct {
	config Config
	secret []byte
}

func NewManager(config Config) *Manager {
	secret := config.JWTSecret
	if secret == "" {
		// Generate random secret (dev only)
		b := make([]byte, 32)
		rand.Read(b)
		secret = base64.StdEncoding.EncodeToString(b)
		if config.RequireAuth {
			log.Warn().Msg("Using generated JWT secret. Set JWT_SECRET env var for production.")
		}
	}
	if len(config.PublicPaths) == 0 {
		config.PublicPaths = []string{"/health", "/login"}
	}
	if config.RequireAuth && len(config.Users) == 0 {
		log.Warn().Msg("authentication required but AUTH_USERS is empty; nobody can log in")
	}

	return &Manager{
		config: config,
		secret: []byte(secret),
	}
}

func (m *Manager) Enabled() bool { return m.config.RequireAuth }

// Middleware rejects requests without a valid bearer token unless auth is
// disabled or the route is public.
func (m *Manager) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			if slices.Contains(m.config.PublicPaths, c.Path()) {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing authorization header",
				})
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" || strings.Contains(token, " ") {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Invalid authorization header format",
				})
			}

			user, err := m.ValidateToken(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": fmt.Sprintf("Invalid token: %v", err),
				})
			}

			c.Set(userKey, user)
			return next(c)
		}
	}
}

// RequireRole passes only users holding role. It is a no-op when auth is
// disabled.
func (m *Manager) RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !m.config.RequireAuth {
				return next(c)
			}

			user := GetUserFromContext(c)
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Authentication required",
				})
			}

			if !user.HasRole(role) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": fmt.Sprintf("Role '%s' required", role),
				})
			}

			return next(c)
		}
	}
}

func (m *Manager) GenerateToken(user User) (string, error) {
	ttl := m.config.TokenExpiration
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()

	claims := &Claims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ValidateToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &claims.User, nil
	}

	return nil, fmt.Errorf("invalid token")
}

const userKey = "user"

func GetUserFromContext(c echo.Context) *User {
	if user, ok := c.Get(userKey).(*User); ok {
		return user
	}
	return nil
}

const (
	RoleAdmin    = "admin"
	RoleApprover = "approver"
	RoleViewer   = "viewer"
)
