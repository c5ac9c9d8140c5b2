package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Credential is one configured operator account.
type Credential struct {
	Email    string
	Password string
	Name     string
	Roles    []string
}

// ParseUsers reads the AUTH_USERS format: semicolon-separated
// EMAIL:PASSWORD:NAME:ROLES entries, roles comma-separated.
// Example: admin@example.com:pass123:Admin:admin,approver
func ParseUsers(raw string) []Credential {
	var out []Credential
	for _, userStr := range strings.Split(raw, ";") {
		parts := strings.SplitN(strings.TrimSpace(userStr), ":", 4)
		if len(parts) < 4 || parts[0] == "" {
			continue
		}
		out = append(out, Credential{
			Email:    parts[0],
			Password: parts[1],
			Name:     parts[2],
			Roles:    strings.Split(parts[3], ","),
		})
	}
	return out
}

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("invalid login request body")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request",
		})
	}

	user, err := h.validateCredentials(req.Email, req.Password)
	if err != nil {
		log.Warn().Str("email", req.Email).Msg("login failed")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Invalid credentials",
		})
	}

	token, err := h.manager.GenerateToken(*user)
	if err != nil {
		log.Error().Err(err).Msg("failed to generate token")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to generate token",
		})
	}

	log.Info().Str("email", user.Email).Msg("user logged in")

	return c.JSON(http.StatusOK, LoginResponse{
		Token: token,
		User:  *user,
	})
}

// Me returns current user info
func (h *Handler) Me(c echo.Context) error {
	user := GetUserFromContext(c)
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Unauthorized",
		})
	}

	return c.JSON(http.StatusOK, user)
}

func (h *Handler) validateCredentials(email, password string) (*User, error) {
	if email == "" {
		return nil, ErrInvalidCredentials
	}

	for _, cred := range h.manager.config.Users {
		// Constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(email), []byte(cred.Email)) == 1 &&
			subtle.ConstantTimeCompare([]byte(password), []byte(cred.Password)) == 1 {
			return &User{
				ID:    generateUserID(cred.Email),
				Email: cred.Email,
				Name:  cred.Name,
				Roles: cred.Roles,
			}, nil
		}
	}

	return nil, ErrInvalidCredentials
}

// generateUserID creates consistent ID from email
func generateUserID(email string) string {
	return strings.ReplaceAll(email, "@", "-")
}
