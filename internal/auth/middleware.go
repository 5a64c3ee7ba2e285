package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is used for context keys to avoid collisions
type ContextKey string

const (
	// ResultKey is the context key for auth result
	ResultKey ContextKey = "auth_result"
)

// Middleware authenticates requests against a Service. A nil service lets
// every request through.
type Middleware struct {
	authService *Service
}

func NewMiddleware(s *Service) *Middleware { return &Middleware{authService: s} }

// Enabled reports whether requests are checked.
func (m *Middleware) Enabled() bool { return m != nil && m.authService != nil }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		authResult, err := m.authenticate(c.Request)
		if err != nil || !authResult.Success {
			c.Header("WWW-Authenticate", `Bearer realm="catalogd"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}
		c.Set(string(ResultKey), authResult)
		c.Next()
	}
}

// Login exchanges client credentials, from basic auth or the form, for a
// token.
func (m *Middleware) Login(r *http.Request) (*Result, error) {
	if !m.Enabled() {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.FormValue("client_id"), r.FormValue("client_secret")
	}
	return m.authService.Authenticate(r.Context(), LoginRequest{
		Method:       AuthMethodClientSecret,
		ClientID:     id,
		ClientSecret: secret,
	})
}

// authenticate accepts a bearer token or client credentials via basic auth.
func (m *Middleware) authenticate(r *http.Request) (*Result, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return m.authService.Authenticate(r.Context(), LoginRequest{
				Method: AuthMethodJWT,
				Token:  strings.TrimSpace(parts[1]),
			})
		}
	}
	if id, secret, ok := r.BasicAuth(); ok {
		return m.authService.Authenticate(r.Context(), LoginRequest{
			Method:       AuthMethodClientSecret,
			ClientID:     id,
			ClientSecret: secret,
		})
	}
	return &Result{Success: false}, ErrInvalidCredentials
}
