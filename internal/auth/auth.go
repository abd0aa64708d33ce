// Package auth registers users and issues signed session tokens.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/mse-backend/internal/models"
	"github.com/kjannette/mse-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const DefaultRole = "user"

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrTokenExpired       = errors.New("session token expired")
	ErrTokensDisabled     = errors.New("session tokens disabled")
)

type UserStore interface {
	Create(ctx context.Context, u *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type Service struct {
	users  UserStore
	secret []byte
	maxAge time.Duration
	cost   int
	now    func() time.Time
}

// NewService signs tokens with secret. An empty secret disables login
// tokens but still allows registration.
func NewService(users UserStore, secret string, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	return &Service{
		users:  users,
		secret: []byte(secret),
		maxAge: maxAge,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, &models.User{
		Email:          normalizeEmail(email),
		Name:           strings.TrimSpace(name),
		HashedPassword: string(hash),
		Role:           DefaultRole,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Login checks the password and returns a session token for the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	if len(s.secret) == 0 {
		return "", nil, ErrTokensDisabled
	}
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issue(u.Email)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

type claims struct {
	Email    string `json:"email"`
	IssuedAt int64  `json:"iat"`
}

func (s *Service) issue(email string) (string, error) {
	payload, err := json.Marshal(claims{Email: email, IssuedAt: s.now().Unix()})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding.EncodeToString(payload)
	return enc + "." + s.sign(enc), nil
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Validate returns the email a token was issued for.
func (s *Service) Validate(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrTokensDisabled
	}
	payload, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return "", ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(raw, &c); err != nil || c.Email == "" {
		return "", ErrInvalidToken
	}
	if s.now().Sub(time.Unix(c.IssuedAt, 0)) > s.maxAge {
		return "", ErrTokenExpired
	}
	return c.Email, nil
}
