package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mkarlsson/chatrelay/pkg/auth"
	"github.com/mkarlsson/chatrelay/pkg/model"
	"github.com/mkarlsson/chatrelay/pkg/store"
)

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	svc := auth.New(st, 0)

	user, err := svc.Register("john@example.com", "John Doe", "hunter22")
	if err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	if user.ID == 0 {
		t.Fatalf("Register: expected non-zero user ID")
	}
	if len(user.PasswordHash) == 0 || len(user.PasswordSalt) == 0 {
		t.Fatalf("Register: expected password hash and salt to be set")
	}

	token, got, err := svc.Login("john@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: unexpected error: %v", err)
	}
	if token == "" {
		t.Fatalf("Login: expected a token")
	}
	if got.ID != user.ID {
		t.Fatalf("Login: user mismatch want=%d got=%d", user.ID, got.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	svc := auth.New(st, 0)

	if _, err := svc.Register("john@example.com", "John Doe", "hunter22"); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}

	if _, _, err := svc.Login("john@example.com", "wrong"); !errors.Is(err, model.ErrInvalidLogin) {
		t.Fatalf("Login: want ErrInvalidLogin for wrong password, got %v", err)
	}
	if _, _, err := svc.Login("nobody@example.com", "hunter22"); !errors.Is(err, model.ErrInvalidLogin) {
		t.Fatalf("Login: want ErrInvalidLogin for unknown email, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	svc := auth.New(st, 0)

	user, err := svc.Register("john@example.com", "John Doe", "hunter22")
	if err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	token, _, err := svc.Login("john@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: unexpected error: %v", err)
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: unexpected error: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("Verify: user mismatch want=%d got=%d", user.ID, got.ID)
	}

	if _, err := svc.Verify(""); !errors.Is(err, model.ErrInvalidToken) {
		t.Fatalf("Verify: want ErrInvalidToken for empty token, got %v", err)
	}
	if _, err := svc.Verify("deadbeef"); !errors.Is(err, model.ErrInvalidToken) {
		t.Fatalf("Verify: want ErrInvalidToken for unknown token, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()

	clock := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	svc := auth.NewWithClock(st, time.Hour, now)

	if _, err := svc.Register("john@example.com", "John Doe", "hunter22"); err != nil {
		t.Fatalf("Register: unexpected error: %v", err)
	}
	token, _, err := svc.Login("john@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: unexpected error: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	if _, err := svc.Verify(token); !errors.Is(err, model.ErrInvalidToken) {
		t.Fatalf("Verify: want ErrInvalidToken for expired token, got %v", err)
	}

	deleted, err := svc.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup: unexpected error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("Cleanup: want=1 got=%d", deleted)
	}
}
