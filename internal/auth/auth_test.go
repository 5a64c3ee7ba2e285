package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	s, err := NewService(Config{
		Enabled:   true,
		JWTSecret: "test-secret",
		TokenTTL:  ttl,
		Clients:   []Client{{ID: "ops", SecretHash: hash}},
	})
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	hash, err := HashSecret("x")
	require.NoError(t, err)

	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Enabled: true}.Validate())
	assert.Error(t, Config{Enabled: true, Clients: []Client{{SecretHash: hash}}}.Validate())
	assert.Error(t, Config{Enabled: true, Clients: []Client{{ID: "a", SecretHash: "plain"}}}.Validate())
	assert.Error(t, Config{Enabled: true, Clients: []Client{{ID: "a", SecretHash: hash}, {ID: "a", SecretHash: hash}}}.Validate())
	assert.NoError(t, Config{Enabled: true, Clients: []Client{{ID: "a", SecretHash: hash}}}.Validate())

	_, err = HashSecret("")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestClientSecretIssuesVerifiableToken(t *testing.T) {
	s := newService(t, time.Minute)
	ctx := context.Background()

	res, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodClientSecret, ClientID: "ops", ClientSecret: "s3cret"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NotNil(t, res.Token)
	assert.Equal(t, "Bearer", res.Token.Type)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.Token.ExpiresAt, 5*time.Second)

	got, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: res.Token.Value})
	require.NoError(t, err)
	assert.Equal(t, "ops", got.ClientID)

	for _, bad := range []LoginRequest{
		{Method: AuthMethodClientSecret, ClientID: "ops", ClientSecret: "wrong"},
		{Method: AuthMethodClientSecret, ClientID: "nobody", ClientSecret: "s3cret"},
		{Method: AuthMethodClientSecret},
		{Method: AuthMethodJWT, Token: "not.a.jwt"},
		{Method: AuthMethodJWT},
	} {
		r, err := s.Authenticate(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
		assert.False(t, r.Success)
	}
	_, err = s.Authenticate(ctx, LoginRequest{Method: "basic"})
	assert.Error(t, err)
}

func TestTokenRejections(t *testing.T) {
	s := newService(t, time.Minute)
	ctx := context.Background()

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID: "ops",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: signed})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ClientID: "ops"}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: foreign})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	unknown, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ClientID: "gone"}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: unknown})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRandomSecretWhenUnset(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)
	cfg := Config{Enabled: true, Clients: []Client{{ID: "ops", SecretHash: hash}}}
	a, err := NewService(cfg)
	require.NoError(t, err)
	b, err := NewService(cfg)
	require.NoError(t, err)

	res, err := a.Authenticate(context.Background(), LoginRequest{Method: AuthMethodClientSecret, ClientID: "ops", ClientSecret: "s3cret"})
	require.NoError(t, err)
	_, err = b.Authenticate(context.Background(), LoginRequest{Method: AuthMethodJWT, Token: res.Token.Value})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func guarded(m *Middleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/extract", m.GinAuth(), func(c *gin.Context) {
		res, _ := c.Get(string(ResultKey))
		id := ""
		if r, ok := res.(*Result); ok {
			id = r.ClientID
		}
		c.String(http.StatusOK, "ok:"+id)
	})
	return r
}

func TestGinAuth(t *testing.T) {
	s := newService(t, time.Minute)
	r := guarded(NewMiddleware(s))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/extract", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/extract", nil)
	req.SetBasicAuth("ops", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok:ops", w.Body.String())

	res, err := s.Authenticate(context.Background(), LoginRequest{Method: AuthMethodClientSecret, ClientID: "ops", ClientSecret: "s3cret"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/extract", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token.Value)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/extract", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	var nilMW *Middleware
	assert.False(t, nilMW.Enabled())
	assert.False(t, NewMiddleware(nil).Enabled())

	w := httptest.NewRecorder()
	guarded(NewMiddleware(nil)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/extract", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok:", w.Body.String())
}

func TestLoginFromForm(t *testing.T) {
	m := NewMiddleware(newService(t, time.Minute))
	form := url.Values{"client_id": {"ops"}, "client_secret": {"s3cret"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := m.Login(req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Token.Value)

	req = httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	req.SetBasicAuth("ops", "bad")
	_, err = m.Login(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = NewMiddleware(nil).Login(req)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
