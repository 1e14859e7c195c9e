package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIB-backend/internal/access"
)

var testSecret = []byte("test-secret")

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc := NewService(NewMemoryStore(), testSecret, time.Hour)
	require.NoError(t, svc.Register(context.Background(), "alice", "password1", access.RoleUser))
	require.NoError(t, svc.Register(context.Background(), "root", "password1", access.RoleAdmin))
	return svc
}

func TestService_LoginIssuesRoleClaim(t *testing.T) {
	svc := newTestService(t)

	tok, err := svc.Login(context.Background(), "root", "password1")
	require.NoError(t, err)

	parsed, err := jwt.Parse(tok, func(*jwt.Token) (any, error) { return testSecret, nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "root", claims["sub"])
	assert.Equal(t, "ADMIN", claims["role"])
}

func TestService_LoginWrongPassword(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Login(context.Background(), "alice", "nope-nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "ghost", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_Register(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Register(ctx, "alice", "password1", access.RoleUser), ErrAlreadyExists)
	assert.ErrorIs(t, svc.Register(ctx, "bob", "short", access.RoleUser), ErrInvalidInput)
	assert.ErrorIs(t, svc.Register(ctx, " ", "password1", access.RoleUser), ErrInvalidInput)
	assert.ErrorIs(t, svc.Register(ctx, "bob", "password1", access.RoleUnknown), ErrInvalidInput)
}

func TestService_EnsureAdminIsIdempotent(t *testing.T) {
	svc := NewService(NewMemoryStore(), testSecret, 0)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "password1"))
	require.NoError(t, svc.EnsureAdmin(ctx, "admin", "other-password"))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ADMIN", list[0].Role)
}

func TestService_Delete(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, "alice"))
	assert.ErrorIs(t, svc.Delete(ctx, "alice"), ErrNotFound)
}

func TestService_Update(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	admin := access.RoleAdmin
	pw := "new-password"

	acct, err := svc.Update(ctx, "alice", AccountUpdate{Role: &admin, Password: &pw})
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", acct.Role)

	_, err = svc.Login(ctx, "alice", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "old password no longer works")
	_, err = svc.Login(ctx, "alice", pw)
	assert.NoError(t, err)

	got, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", got.Role)
}

func TestService_UpdateRejects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	unknown := access.RoleUnknown
	short := "short"
	yes := true

	cases := []struct {
		name string
		id   string
		upd  AccountUpdate
		want error
	}{
		{"nothing to change", "alice", AccountUpdate{}, ErrInvalidInput},
		{"unknown role", "alice", AccountUpdate{Role: &unknown}, ErrInvalidInput},
		{"short password", "alice", AccountUpdate{Password: &short}, ErrInvalidInput},
		{"missing account", "nobody", AccountUpdate{Disabled: &yes}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(ctx, tc.id, tc.upd)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := svc.Get(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_DisabledAccountCannotLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	yes, no := true, false

	_, err := svc.Update(ctx, "alice", AccountUpdate{Disabled: &yes})
	require.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Update(ctx, "alice", AccountUpdate{Disabled: &no})
	require.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "password1")
	assert.NoError(t, err)
}

// ---------- middleware ----------

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	return s
}

func newAuthRouter(seen *access.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", RequireAuth(testSecret))
	g.GET("/me", func(c *gin.Context) {
		*seen, _ = IdentityFrom(c)
		c.Status(http.StatusNoContent)
	})
	g.GET("/admin", RequireOperation(access.OpListUsers), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": "alice", "role": "USER", "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized},
		{"no exp", "Bearer " + sign(t, jwt.MapClaims{"sub": "alice", "role": "USER"}), http.StatusUnauthorized},
		{"valid", "Bearer " + sign(t, jwt.MapClaims{"sub": "alice", "role": "user", "exp": exp}), http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen access.Identity
			r := newAuthRouter(&seen)
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusNoContent {
				assert.Equal(t, access.Identity{UserID: "alice", Role: access.RoleUser}, seen)
			}
		})
	}
}

func TestRequireOperation(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	var seen access.Identity
	r := newAuthRouter(&seen)

	for role, want := range map[string]int{
		"ADMIN":     http.StatusNoContent,
		"USER":      http.StatusForbidden,
		"LIBRARIAN": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{"sub": "x", "role": role, "exp": exp}))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, role)
	}
}

// ---------- handler ----------

func TestHandler_RegisterAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService(NewMemoryStore(), testSecret, time.Hour)
	r := gin.New()
	RegisterRoutes(r, svc)

	post := func(path string, body any) *httptest.ResponseRecorder {
		b, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("/auth/register", gin.H{"id": "carol", "password": "password1"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = post("/auth/register", gin.H{"id": "carol", "password": "password1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = post("/auth/login", gin.H{"id": "carol", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post("/auth/login", gin.H{"id": "carol", "password": "password1"})
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Token)

	// 自己登録は常に USER
	acct, err := svc.store.GetByID(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "USER", acct.Role)
}

func TestHandler_AdminUserRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService(t)
	r := gin.New()
	g := r.Group("/", RequireAuth(testSecret))
	RegisterAdminRoutes(g, svc)

	exp := time.Now().Add(time.Hour).Unix()
	adminToken := sign(t, jwt.MapClaims{"sub": "root", "role": "ADMIN", "exp": exp})
	userToken := sign(t, jwt.MapClaims{"sub": "alice", "role": "USER", "exp": exp})

	do := func(method, path, token string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/users/alice", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got UserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "alice", got.ID)
	assert.Equal(t, "USER", got.Role)

	w = do(http.MethodGet, "/users/nobody", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodGet, "/users/alice", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(http.MethodPut, "/users/alice", userToken, gin.H{"is_disabled": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(http.MethodPut, "/users/alice", adminToken, gin.H{"role": "LIBRARIAN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPut, "/users/alice", adminToken, gin.H{"role": "admin", "is_disabled": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "ADMIN", got.Role)
	assert.True(t, got.IsDisabled)

	_, err := svc.Login(context.Background(), "alice", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
