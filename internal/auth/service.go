package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = time.Hour

// Service checks client secrets and issues and verifies tokens.
type Service struct {
	clients   map[string][]byte
	jwtSecret []byte
	tokenTTL  time.Duration
}

// Claims represents JWT claims
type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	jwtSecret := []byte(config.JWTSecret)
	if len(jwtSecret) == 0 {
		jwtSecret = make([]byte, 32)
		if _, err := rand.Read(jwtSecret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	tokenTTL := config.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	clients := make(map[string][]byte, len(config.Clients))
	for _, c := range config.Clients {
		clients[c.ID] = []byte(c.SecretHash)
	}
	return &Service{clients: clients, jwtSecret: jwtSecret, tokenTTL: tokenTTL}, nil
}

// HashSecret returns the bcrypt hash to put in secret_hash.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidCredentials
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticate performs authentication based on the login request
func (s *Service) Authenticate(ctx context.Context, req LoginRequest) (*Result, error) {
	switch req.Method {
	case AuthMethodClientSecret:
		return s.authenticateClientSecret(ctx, req.ClientID, req.ClientSecret)
	case AuthMethodJWT:
		return s.authenticateJWT(ctx, req.Token)
	default:
		return &Result{Success: false}, fmt.Errorf("unsupported auth method: %s", req.Method)
	}
}

// authenticateClientSecret checks the secret and issues a token.
func (s *Service) authenticateClientSecret(_ context.Context, clientID, clientSecret string) (*Result, error) {
	if clientID == "" || clientSecret == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	hash, ok := s.clients[clientID]
	if !ok {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(clientSecret)); err != nil {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	token, err := s.generateJWT(clientID)
	if err != nil {
		return &Result{Success: false}, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Result{Success: true, ClientID: clientID, Token: token}, nil
}

func (s *Service) authenticateJWT(_ context.Context, tokenString string) (*Result, error) {
	if tokenString == "" {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	// a client removed from the config loses its tokens on restart
	if _, known := s.clients[claims.ClientID]; !known {
		return &Result{Success: false}, ErrInvalidCredentials
	}
	return &Result{Success: true, ClientID: claims.ClientID}, nil
}

func (s *Service) generateJWT(clientID string) (*Token, error) {
	now := time.Now()
	expiresAt := now.Add(s.tokenTTL)
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "catalogd",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}
