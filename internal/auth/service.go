package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/rahvis/VideoForge/internal/model"
	"github.com/rahvis/VideoForge/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("unauthorized")

type Claims struct {
	UserID string         `json:"uid"`
	Email  string         `json:"email"`
	Role   model.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
}

// Service issues and verifies HS256 access tokens against users in
// the store.
type Service struct {
	store     *store.Store
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewService(st *store.Store, secret string, accessTTL time.Duration) *Service {
	return &Service{
		store:     st,
		secret:    []byte(secret),
		accessTTL: accessTTL,
		now:       time.Now,
	}
}

// SeedUser creates the user if it does not already exist.
func (s *Service) SeedUser(email, password string) error {
	if _, err := s.store.GetUserByEmail(email); err == nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.CreateUser(model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		CreatedAt:    s.now().UTC(),
	})
}

func (s *Service) Login(email, password string) (model.User, Token, error) {
	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		return model.User{}, Token{}, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.User{}, Token{}, ErrUnauthorized
	}
	token, err := s.issue(user)
	if err != nil {
		return model.User{}, Token{}, err
	}
	return user, token, nil
}

func (s *Service) ParseAccess(tokenString string) (Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, ErrUnauthorized
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Claims{}, ErrUnauthorized
	}
	return *claims, nil
}

func (s *Service) issue(user model.User) (Token, error) {
	now := s.now().UTC()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "videoforge",
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign access token: %w", err)
	}
	return Token{AccessToken: access, ExpiresInSec: int64(s.accessTTL.Seconds())}, nil
}
