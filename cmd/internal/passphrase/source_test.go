package passphrase

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func newTestSource(env map[string]string, terminal bool, typed string, readErr error) *Source {
	s := NewSource("TEST_PASSPHRASE", "admin keystore")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.isTerminal = func() bool { return terminal }
	s.readPassword = func() ([]byte, error) { return []byte(typed), readErr }
	s.prompt = io.Discard
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"TEST_PASSPHRASE": "hunter2"}, true, "typed", nil)
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("expected env passphrase, got %q (%v)", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s := newTestSource(map[string]string{"TEST_PASSPHRASE": "  "}, true, "typed", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty env error, got %v", err)
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	s := newTestSource(nil, true, "typed-secret", nil)
	got, err := s.Get()
	if err != nil || got != "typed-secret" {
		t.Fatalf("expected typed passphrase, got %q (%v)", got, err)
	}
	s.readPassword = func() ([]byte, error) { return nil, errors.New("called twice") }
	if again, err := s.Get(); err != nil || again != "typed-secret" {
		t.Fatalf("expected cached passphrase, got %q (%v)", again, err)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := newTestSource(nil, false, "", nil)
	if _, err := s.Get(); err == nil || !strings.Contains(err.Error(), "TEST_PASSPHRASE") {
		t.Fatalf("expected guidance error, got %v", err)
	}
}

func TestSourceRejectsBlankPrompt(t *testing.T) {
	s := newTestSource(nil, true, "   ", nil)
	if _, err := s.Get(); err == nil {
		t.Fatalf("expected blank passphrase error")
	}
}
