package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "hello world", "hello world"},
		{"script stripped", `hello <script>alert("xss")</script>world`, "hello world"},
		{"allowed formatting kept", "hello <b>bold</b>", "hello <b>bold</b>"},
		{"event handler stripped", `<img src="x" onerror="alert(1)">`, `<img src="x">`},
		{"whitespace trimmed", "  hi  ", "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("hello **bold** world")
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if !strings.Contains(html, "<strong>bold</strong>") {
		t.Errorf("expected strong tag, got %q", html)
	}

	// Raw HTML in markdown must not survive sanitization.
	html, err = RenderMarkdown(`click <script>alert(1)</script> here`)
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script tag survived sanitization: %q", html)
	}
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"alice@example.com", "a.b-c_d@sub.domain.org"}
	for _, e := range valid {
		if err := ValidateEmail(e); err != nil {
			t.Errorf("ValidateEmail(%q) = %v, want nil", e, err)
		}
	}

	invalid := []string{"", "no-at-sign", "two@@example.com", "spaces in@example.com", "noext@host"}
	for _, e := range invalid {
		if err := ValidateEmail(e); err == nil {
			t.Errorf("ValidateEmail(%q) = nil, want error", e)
		}
	}
}
