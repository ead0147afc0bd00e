// Package auth handles account registration, credential checks, and the
// session tokens the HTTP and WebSocket layers verify.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/teamchat/realtime/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

// Claims is the JWT payload: subject is the user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Service struct {
	store    *store.Store
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
}

func NewService(logger *slog.Logger, st *store.Store, secret string, tokenTTL time.Duration) *Service {
	return &Service{
		store:    st,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		logger:   logger.With(slog.String("component", "auth")),
	}
}

// Register creates a new account. A taken username fails with
// store.ErrDuplicate.
func (s *Service) Register(ctx context.Context, username, email, password string) (*store.User, error) {
	if username == "" || password == "" {
		return nil, errors.New("username and password cannot be empty")
	}
	if len(password) < 6 {
		return nil, errors.New("password must be at least 6 characters")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user, err := s.store.CreateUser(ctx, username, email, hashed)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", slog.String("username", username))
	return user, nil
}

// Login checks credentials and returns the user with a fresh session
// token. Unknown usernames and wrong passwords are indistinguishable to
// the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*store.User, string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// IssueToken signs a session token for the user.
func (s *Service) IssueToken(user *store.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken parses and validates a session token.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}
