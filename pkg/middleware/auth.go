package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-totp-chat/pkg/jwt"
	"github.com/weiawesome/wes-totp-chat/pkg/response"
)

const (
	UserIDKey     = "user_id"
	EmailKey      = "email"
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	TokenQueryKey = "token"
)

var ErrMissingToken = errors.New("missing access token")

// TokenValidator validates an access token and returns its claims.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// Identity is the authenticated caller of a request or connection.
type Identity struct {
	UserID   string
	Username string
	Email    string
}

// AuthMiddleware authenticates callers from bearer tokens.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Authenticate extracts and validates the token of a raw request. The token is
// read from the Authorization header, or from the "token" query parameter for
// browser websocket clients that cannot set headers.
func (m *AuthMiddleware) Authenticate(r *http.Request) (*Identity, error) {
	token := ""
	if header := r.Header.Get(AuthHeaderKey); header != "" {
		if !strings.HasPrefix(header, BearerPrefix) {
			return nil, jwt.ErrInvalidToken
		}
		token = strings.TrimPrefix(header, BearerPrefix)
	} else {
		token = r.URL.Query().Get(TokenQueryKey)
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := m.validator.Validate(token)
	if err != nil {
		return nil, err
	}

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.Email,
	}, nil
}

// RequireAuth returns a Gin middleware that rejects unauthenticated requests.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := m.Authenticate(c.Request)
		if err != nil {
			msg := "invalid access token"
			switch {
			case errors.Is(err, ErrMissingToken):
				msg = "missing authorization header"
			case errors.Is(err, jwt.ErrExpiredToken):
				msg = "access token has expired"
			}
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, msg)
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

// SetIdentity stores the caller in the Gin context.
func SetIdentity(c *gin.Context, id *Identity) {
	c.Set(UserIDKey, id.UserID)
	c.Set(UsernameKey, id.Username)
	c.Set(EmailKey, id.Email)
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

// GetEmail extracts email from Gin context.
func GetEmail(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// GetIdentity returns the caller stored by RequireAuth, or nil.
func GetIdentity(c *gin.Context) *Identity {
	userID := GetUserID(c)
	if userID == "" {
		return nil
	}
	return &Identity{
		UserID:   userID,
		Username: GetUsername(c),
		Email:    GetEmail(c),
	}
}
