package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestHandlerUsesCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("deposit created", "account", "stk1abc")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "account"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing key %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" {
		t.Fatalf("unexpected severity %v", line["severity"])
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelWarn))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line emitted at warn level: %s", buf.String())
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakevault.log")
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger, closer := Setup("stakevaultd", "test", Options{File: path})
	logger.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"service":"stakevaultd"`)) {
		t.Fatalf("log file missing service attribute: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("warning") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("token", "secret"); attr.Value.String() != RedactedValue {
		t.Fatalf("token not redacted: %v", attr)
	}
	if attr := MaskField("account", "stk1abc"); attr.Value.String() != "stk1abc" {
		t.Fatalf("allowlisted key redacted: %v", attr)
	}
	if attr := MaskField("token", ""); attr.Value.String() != "" {
		t.Fatalf("empty value should pass through: %v", attr)
	}
}

func TestRedactionAllowlistExcludesCredentials(t *testing.T) {
	keys := RedactionAllowlist()
	if !sort.StringsAreSorted(keys) {
		t.Fatalf("allowlist not sorted: %v", keys)
	}
	allowed := make(map[string]bool, len(keys))
	for _, key := range keys {
		allowed[key] = true
		if attr := MaskField(key, "value"); attr.Value.String() != "value" {
			t.Fatalf("allowlisted key %q redacted", key)
		}
	}
	for _, key := range []string{"request_id", "method", "account"} {
		if !allowed[key] {
			t.Fatalf("expected %q in allowlist %v", key, keys)
		}
	}
	for _, key := range []string{"authorization", "token", "passphrase", "secret", "hmac_secret"} {
		if allowed[key] {
			t.Fatalf("credential key %q must not be allowlisted", key)
		}
		if attr := MaskField(key, "value"); attr.Value.String() != RedactedValue {
			t.Fatalf("credential key %q not redacted: %v", key, attr)
		}
	}

	keys[0] = "authorization"
	if IsAllowlisted("authorization") {
		t.Fatalf("mutating the returned slice changed the allowlist")
	}
}
