package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   bool
	}{
		{"empty", Config{}, false},
		{"host only", Config{Host: "smtp.example.com"}, false},
		{"no from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"complete", Config{Host: "smtp.example.com", Port: "587", From: "noreply@afkar.example"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewService(tt.config).IsConfigured(); got != tt.want {
				t.Fatalf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}

	var nilService *Service
	if nilService.IsConfigured() {
		t.Fatal("nil service reports configured")
	}
}

func TestMailTemplatesCarryActionURL(t *testing.T) {
	verify, err := renderMail(verifyTemplate, mailData{UserName: "Riley", ActionURL: "https://afkar.example/verify?token=tok_1"})
	if err != nil {
		t.Fatalf("render verify: %v", err)
	}
	if !strings.Contains(verify, "https://afkar.example/verify?token=tok_1") || !strings.Contains(verify, "Riley") {
		t.Fatalf("verify mail missing link or name:\n%s", verify)
	}

	reset, err := renderMail(resetTemplate, mailData{UserName: "Riley", ActionURL: "https://afkar.example/reset?token=tok_2"})
	if err != nil {
		t.Fatalf("render reset: %v", err)
	}
	if !strings.Contains(reset, "token=tok_2") {
		t.Fatalf("reset mail missing link:\n%s", reset)
	}
}

func TestSendFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendVerificationEmail("to@example.com", "Riley", "https://afkar.example/verify"); err == nil {
		t.Fatal("expected error from unconfigured sender")
	}
}
