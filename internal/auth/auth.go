// Package auth protects the control endpoints (pause, resume, archive) with
// JWT bearer tokens. The portfolio loop itself never touches auth.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Errors for authentication
var (
	ErrInvalidToken       = errors.New("invalid or malformed token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const bcryptCost = 12

// UserClaims is the payload embedded in access tokens.
type UserClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type tokenClaims struct {
	UserClaims
	jwt.RegisteredClaims
}

// UserStore is the persistence interface for operator accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// User is one operator account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Service issues and validates tokens against the user store.
type Service struct {
	store         UserStore
	secret        []byte
	tokenDuration time.Duration
	minPWLength   int
}

// NewService creates an auth service.
func NewService(store UserStore, secret string, tokenDuration time.Duration, minPWLength int) *Service {
	if tokenDuration <= 0 {
		tokenDuration = 15 * time.Minute
	}
	if minPWLength < 8 {
		minPWLength = 8
	}
	return &Service{
		store:         store,
		secret:        []byte(secret),
		tokenDuration: tokenDuration,
		minPWLength:   minPWLength,
	}
}

// Login verifies credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil || user == nil {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	_ = s.store.TouchLastLogin(ctx, user.ID, time.Now())

	return s.generateToken(UserClaims{UserID: user.ID, Email: user.Email, Role: user.Role})
}

// SeedAdmin creates the admin account if it does not exist yet. Called once
// at startup from config.
func (s *Service) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	if len(password) < s.minPWLength {
		return fmt.Errorf("admin password must be at least %d characters", s.minPWLength)
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	return s.store.CreateUser(ctx, &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         "admin",
		CreatedAt:    time.Now(),
	})
}

func (s *Service) generateToken(claims UserClaims) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		UserClaims: claims,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenDuration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "tokenfolio",
			Audience:  []string{"tokenfolio-api"},
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates an access token.
func (s *Service) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return &claims.UserClaims, nil
}

// TokenDurationSeconds returns the token lifetime for login responses.
func (s *Service) TokenDurationSeconds() int64 {
	return int64(s.tokenDuration.Seconds())
}
