package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
)

const accessTokenType = "access"

type AuthService struct {
	config        *Config
	now           func() time.Time
	refreshTokens map[string]time.Time
	refreshMutex  sync.Mutex
}

func NewAuthService(cfg *Config) *AuthService {
	return &AuthService{
		config:        cfg,
		now:           time.Now,
		refreshTokens: make(map[string]time.Time),
	}
}

// HashPassword returns the bcrypt hash to store in the api.password_hash setting.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func (s *AuthService) Login(req LoginRequest) (*TokenPair, error) {
	if req.Username != s.config.Username {
		// Compare anyway so unknown names take as long as wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte(s.config.PasswordHash), []byte(req.Password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.generateTokens()
}

// RefreshToken rotates a refresh token: the old one is spent either way.
func (s *AuthService) RefreshToken(refreshToken string) (*TokenPair, error) {
	s.refreshMutex.Lock()
	expiresAt, exists := s.refreshTokens[refreshToken]
	delete(s.refreshTokens, refreshToken)
	s.refreshMutex.Unlock()

	if !exists {
		return nil, ErrInvalidToken
	}
	if s.now().After(expiresAt) {
		return nil, ErrExpiredToken
	}
	return s.generateTokens()
}

func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != accessTokenType || claims.Username != s.config.Username {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *AuthService) Logout(refreshToken string) error {
	s.refreshMutex.Lock()
	defer s.refreshMutex.Unlock()

	if _, exists := s.refreshTokens[refreshToken]; !exists {
		return ErrInvalidToken
	}
	delete(s.refreshTokens, refreshToken)
	return nil
}

func (s *AuthService) generateTokens() (*TokenPair, error) {
	now := s.now()
	expiresAt := now.Add(s.config.AccessTokenDuration)

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: s.config.Username,
		Type:     accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   s.config.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	accessTokenString, err := accessToken.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshTokenRaw := make([]byte, 32)
	if _, err := rand.Read(refreshTokenRaw); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refreshTokenString := base64.URLEncoding.EncodeToString(refreshTokenRaw)

	s.refreshMutex.Lock()
	s.pruneLocked(now)
	s.refreshTokens[refreshTokenString] = now.Add(s.config.RefreshTokenDuration)
	s.refreshMutex.Unlock()

	return &TokenPair{
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *AuthService) pruneLocked(now time.Time) {
	for token, expiresAt := range s.refreshTokens {
		if now.After(expiresAt) {
			delete(s.refreshTokens, token)
		}
	}
}
