package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()

	key, err := Static("sk-123").APIKey(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-123" {
		t.Errorf("got %q", key)
	}

	if _, err := Static("").APIKey(ctx); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("empty static must yield ErrNoAPIKey, got %v", err)
	}
}

func TestEnv(t *testing.T) {
	ctx := context.Background()

	t.Setenv("LENS_TEST_KEY", "sk-env")
	key, err := Env("LENS_TEST_KEY").APIKey(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-env" {
		t.Errorf("got %q", key)
	}

	if _, err := Env("LENS_TEST_KEY_UNSET").APIKey(ctx); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("unset variable must yield ErrNoAPIKey, got %v", err)
	}
}

func TestOAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		src := OAuth{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: "tok-abc",
			Expiry:      time.Now().Add(time.Hour),
		})}
		key, err := src.APIKey(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if key != "tok-abc" {
			t.Errorf("got %q", key)
		}
	})

	t.Run("nil token source", func(t *testing.T) {
		if _, err := (OAuth{}).APIKey(ctx); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	key, err := Chain{Static(""), Static("sk-fallback")}.APIKey(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-fallback" {
		t.Errorf("got %q", key)
	}

	if _, err := (Chain{Static(""), Env("LENS_TEST_KEY_UNSET")}).APIKey(ctx); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("exhausted chain must yield ErrNoAPIKey, got %v", err)
	}
}
