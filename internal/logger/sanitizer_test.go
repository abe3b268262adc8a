package logger

import (
	"errors"
	"testing"
)

func TestSanitizer_Sanitize(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"password", "login with password=secret123", "login with password=***"},
		{"token in query", "GET /files?token=abc123&fields=id", "GET /files?token=***&fields=id"},
		{"bearer header", "Authorization: Bearer eyJhbGc...", "Authorization: bearer ***"},
		{"access token", "using ya29.a0AfH6SMBx-abc for request", "using ya29.*** for request"},
		{"refresh token", "refresh 1//0gAbCdEfGhIjKlMnOpQrStUv ok", "refresh 1//*** ok"},
		{"client secret", "oauth client_secret=GOCSPX-abcdef", "oauth client_secret=***"},
		{"bare client secret", "secret is GOCSPX-abcdef", "secret is GOCSPX-***"},
		{"unix home", "token file /home/john/.config/drivewatch/token.json", "token file /home/***/.config/drivewatch/token.json"},
		{"mac home", "mirror to /Users/jane/Drive", "mirror to /Users/***/Drive"},
		{"windows home", `state in C:\Users\jane\AppData`, `state in ***:\Users\***\AppData`},
		{"email", "shared by john.doe@example.com", "shared by joh***@example.com"},
		{"clean", "poll cycle complete", "poll cycle complete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizer_SanitizeArgs(t *testing.T) {
	s := NewSanitizer()
	args := []any{
		"folder_id", "abc",
		"access_token", "secret-token-value",
		"size", 1024,
		"error", errors.New("refresh failed for 1//0gAbCdEfGhIjKlMnOpQrStUv"),
		"path", "/home/john/mirror",
	}

	got := s.SanitizeArgs(args)
	if len(got) != len(args) {
		t.Fatalf("expected %d args, got %d", len(args), len(got))
	}

	want := map[int]any{
		1: "abc",
		3: "s***e",
		5: 1024,
		7: "refresh failed for 1//***",
		9: "/home/***/mirror",
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("arg %d (%v) = %v, want %v", i, got[i-1], got[i], w)
		}
	}
	if args[3] != "secret-token-value" {
		t.Error("SanitizeArgs must not modify its input")
	}
}

func TestSanitizer_SanitizeArgsOddLength(t *testing.T) {
	got := NewSanitizer().SanitizeArgs([]any{"token"})
	if len(got) != 1 || got[0] != "token" {
		t.Errorf("dangling key changed: %v", got)
	}
}

func TestSanitizer_AddRule(t *testing.T) {
	s := NewSanitizer()

	if err := s.AddRule(`SSN=\d{3}-\d{2}-\d{4}`, "SSN=***"); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if got := s.Sanitize("User SSN=123-45-6789 registered"); got != "User SSN=*** registered" {
		t.Errorf("got %q", got)
	}
	if err := s.AddRule(`(`, "x"); err == nil {
		t.Error("expected error for invalid pattern")
	}

	// Custom rules stay local to their sanitizer
	if got := NewSanitizer().Sanitize("SSN=123-45-6789"); got != "SSN=123-45-6789" {
		t.Errorf("rule leaked into a new sanitizer: %q", got)
	}
}

func TestMaskValue(t *testing.T) {
	tests := map[string]string{
		"":                 "***",
		"ab":               "***",
		"abc":              "a***",
		"abcdefgh":         "a***",
		"abcdefghi":        "a***i",
		"verylongpassword": "v***d",
	}

	for input, want := range tests {
		if got := maskValue(input); got != want {
			t.Errorf("maskValue(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestIsSensitiveKey(t *testing.T) {
	tests := map[string]bool{
		"password":      true,
		"refresh_token": true,
		"CLIENT_SECRET": true,
		"api_key":       true,
		"auth_mode":     true,
		"folder_id":     false,
		"file":          false,
	}

	for key, want := range tests {
		if got := isSensitiveKey(key); got != want {
			t.Errorf("isSensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
