package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/teamchat/realtime/internal/auth"
	"github.com/teamchat/realtime/internal/store"
)

func newTestService(t *testing.T) *auth.Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return auth.NewService(logger, s, "test-secret", time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.ID == "" || user.Username != "alice" {
		t.Fatalf("Unexpected user: %+v", user)
	}

	loggedIn, token, err := svc.Login(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Errorf("Expected user %s, got %s", user.ID, loggedIn.ID)
	}

	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.Subject != user.ID || claims.Username != "alice" {
		t.Errorf("Unexpected claims: subject=%s username=%s", claims.Subject, claims.Username)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "", "hunter22"); err == nil {
		t.Error("Expected error for empty username")
	}
	if _, err := svc.Register(ctx, "bob", "", "short"); err == nil {
		t.Error("Expected error for short password")
	}

	if _, err := svc.Register(ctx, "carol", "", "hunter22"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, "carol", "", "hunter23"); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for taken username, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "", "hunter22"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Unknown usernames and wrong passwords yield the same error.
	if _, _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "hunter22"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestVerifyTokenRejectsTampering(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t) // different store, same secret shape

	user, err := svc.Register(context.Background(), "alice", "", "hunter22")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := svc.VerifyToken(token + "x"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for mangled token, got %v", err)
	}
	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for garbage token, got %v", err)
	}
	if _, err := other.VerifyToken(token); err != nil {
		t.Errorf("Same-secret verification should pass, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	svc := auth.NewService(logger, s, "test-secret", -time.Minute)

	user, err := svc.Register(context.Background(), "alice", "", "hunter22")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token, err := svc.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := svc.VerifyToken(token); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for expired token, got %v", err)
	}
}
