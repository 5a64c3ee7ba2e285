// Package auth guards the mutating API endpoints. Operators are API clients
// declared in configuration with bcrypt-hashed secrets; they exchange the
// secret for a short-lived HS256 token or send it with basic auth.
package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// AuthMethod represents the type of authentication
type AuthMethod string

const (
	AuthMethodClientSecret AuthMethod = "client_secret" // client_id/client_secret
	AuthMethodJWT          AuthMethod = "jwt"           // bearer token
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Client is one operator allowed to trigger runs.
type Client struct {
	ID         string `mapstructure:"id"`
	SecretHash string `mapstructure:"secret_hash"` // bcrypt, see HashSecret
}

// Config is the [server.auth] section.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"` // random per process when empty
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Clients   []Client      `mapstructure:"clients"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Clients) == 0 {
		return errors.New("auth: enabled without clients")
	}
	seen := make(map[string]bool, len(c.Clients))
	for _, cl := range c.Clients {
		if cl.ID == "" {
			return errors.New("auth: client without id")
		}
		if seen[cl.ID] {
			return fmt.Errorf("auth: duplicate client %q", cl.ID)
		}
		seen[cl.ID] = true
		if _, err := bcrypt.Cost([]byte(cl.SecretHash)); err != nil {
			return fmt.Errorf("auth: client %q: secret_hash is not a bcrypt hash", cl.ID)
		}
	}
	return nil
}

// Result is what a successful authentication yields.
type Result struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId,omitempty"`
	Token    *Token `json:"token,omitempty"`
}

// Token is an issued bearer token.
type Token struct {
	Type      string    `json:"tokenType"` // "Bearer"
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Method       AuthMethod
	ClientID     string
	ClientSecret string
	Token        string
}
