package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"logbook/api/internal/mentions"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type capture struct {
	addr string
	from string
	to   []string
	msg  string
}

func capturingService(t *testing.T) (*Service, *capture) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "logbook@example.com", FromName: "Logbook"})
	c := &capture{}
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		c.addr, c.from, c.to, c.msg = addr, from, to, string(msg)
		return nil
	}
	return svc, c
}

func TestSendMentionEmail(t *testing.T) {
	svc, c := capturingService(t)

	err := svc.SendMentionEmail(
		mentions.Recipient{UserID: "u1", Name: "John Doe", Email: "john@example.com"},
		mentions.Notice{EntryID: "ent_1", Title: "Night shift", Author: "Dana", Excerpt: "John Doe said <hello>", URL: "https://logbook.example.com/entries/ent_1"},
	)
	if err != nil {
		t.Fatalf("SendMentionEmail() error = %v", err)
	}

	if c.addr != "smtp.example.com:587" || c.from != "logbook@example.com" {
		t.Fatalf("unexpected envelope: %s %s", c.addr, c.from)
	}
	if len(c.to) != 1 || c.to[0] != "john@example.com" {
		t.Fatalf("unexpected recipients: %v", c.to)
	}
	for _, want := range []string{
		"Subject: Dana mentioned you in Night shift",
		"From: Logbook <logbook@example.com>",
		"Content-Type: text/plain",
		"Content-Type: text/html",
		"Hi John Doe,",
		"John Doe said &lt;hello&gt;",
		"https://logbook.example.com/entries/ent_1",
	} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendMentionEmailRequiresAddressAndConfig(t *testing.T) {
	svc, _ := capturingService(t)
	if err := svc.SendMentionEmail(mentions.Recipient{UserID: "u1"}, mentions.Notice{}); err == nil {
		t.Fatal("expected error for recipient without email")
	}

	unconfigured := NewService(Config{})
	err := unconfigured.SendMentionEmail(mentions.Recipient{UserID: "u1", Email: "a@example.com"}, mentions.Notice{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendEmailStripsHeaderInjection(t *testing.T) {
	svc, c := capturingService(t)
	if err := svc.SendEmail([]string{"a@example.com"}, "hi\r\nBcc: evil@example.com", "body"); err != nil {
		t.Fatalf("SendEmail() error = %v", err)
	}
	if strings.Contains(c.msg, "\r\nBcc:") {
		t.Fatal("subject must not inject headers")
	}
}

func TestRenderMentionTemplateDefaults(t *testing.T) {
	html, err := renderTemplate(mentionTemplate, MentionData{AppName: "Logbook", UserName: "Test User", Author: "Dana", Title: "Entry"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "Open the entry") {
		t.Error("link must be omitted without a URL")
	}
	if !strings.Contains(html, "Test User") {
		t.Error("template should contain user name")
	}
}
