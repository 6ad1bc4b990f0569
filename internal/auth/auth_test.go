package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return NewAuthService(&Config{
		Username:             "admin",
		PasswordHash:         string(hash),
		JWTSecret:            testSecret,
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: time.Hour,
	})
}

func TestLogin(t *testing.T) {
	s := newTestService(t)

	tokens, err := s.Login(LoginRequest{Username: "admin", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := s.ValidateToken(tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "admin" || claims.ID == "" {
		t.Errorf("unexpected claims %+v", claims)
	}

	for _, req := range []LoginRequest{
		{Username: "admin", Password: "wrong"},
		{Username: "root", Password: "hunter22"},
	} {
		if _, err := s.Login(req); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("login %q: expected invalid credentials, got %v", req.Username, err)
		}
	}
}

func TestValidateTokenRejects(t *testing.T) {
	s := newTestService(t)
	tokens, err := s.Login(LoginRequest{Username: "admin", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := s.ValidateToken(tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected refresh token to be rejected as access token, got %v", err)
	}

	other := newTestService(t)
	other.config.JWTSecret = "ffffffffffffffffffffffffffffffff"
	if _, err := other.ValidateToken(tokens.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected token signed with another secret to be rejected, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := s.ValidateToken(tokens.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected expired token, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	s := newTestService(t)
	tokens, err := s.Login(LoginRequest{Username: "admin", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, err := s.RefreshToken(tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == tokens.RefreshToken {
		t.Error("expected a new refresh token")
	}
	if _, err := s.RefreshToken(tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected spent refresh token to be rejected, got %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.RefreshToken(next.RefreshToken); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected expired refresh token, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	s := newTestService(t)
	tokens, err := s.Login(LoginRequest{Username: "admin", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := s.Logout(tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := s.Logout(tokens.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected second logout to fail, got %v", err)
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret!")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
	if _, err := HashPassword(""); err == nil {
		t.Error("expected empty password to be rejected")
	}
}

func TestHandlerFlow(t *testing.T) {
	h := NewHandler(newTestService(t))
	mux := http.NewServeMux()
	h.SetupRoutes(mux)

	body, _ := json.Marshal(LoginRequest{Username: "admin", Password: "hunter22"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Operator.Username != "admin" || resp.Token == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("me status %d", rec.Code)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}

	bad, _ := json.Marshal(LoginRequest{Username: "admin", Password: "nope"})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(bad)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
