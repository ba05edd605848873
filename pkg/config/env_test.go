package config

import (
	"testing"
	"time"
)

func TestGetEnvDefaults(t *testing.T) {
	if got := GetEnv("CREDITGATE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("CREDITGATE_TEST_SET", "value")
	if got := GetEnv("CREDITGATE_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("CREDITGATE_TEST_FEE", "10000")
	if got := GetEnvInt64("CREDITGATE_TEST_FEE", 0); got != 10000 {
		t.Fatalf("expected 10000, got %d", got)
	}
	t.Setenv("CREDITGATE_TEST_FEE", "not-a-number")
	if got := GetEnvInt64("CREDITGATE_TEST_FEE", 42); got != 42 {
		t.Fatalf("expected default 42 on parse failure, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("CREDITGATE_TEST_INTERVAL", "15")
	if got := GetEnvDuration("CREDITGATE_TEST_INTERVAL", time.Second, 30*time.Second); got != 15*time.Second {
		t.Fatalf("expected 15s, got %s", got)
	}
	t.Setenv("CREDITGATE_TEST_INTERVAL", "-3")
	if got := GetEnvDuration("CREDITGATE_TEST_INTERVAL", time.Second, 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected default for non-positive value, got %s", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CREDITGATE_TEST_FLAG", "true")
	if !GetEnvBool("CREDITGATE_TEST_FLAG", false) {
		t.Fatal("expected true")
	}
	t.Setenv("CREDITGATE_TEST_FLAG", "nope")
	if GetEnvBool("CREDITGATE_TEST_FLAG", false) {
		t.Fatal("expected default false on parse failure")
	}
}
