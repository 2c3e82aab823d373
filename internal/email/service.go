// Package email sends the notifications of the logbook over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"logbook/api/internal/mentions"
	"logbook/api/internal/render"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppName  string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	if config.AppName == "" {
		config.AppName = "Logbook"
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	var msg bytes.Buffer
	writeHeaders(&msg, to, s.fromHeader(), subject)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n%s", body)
	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// SendHTMLEmail sends a multipart email whose text part is the Markdown rendering of the HTML part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	text, err := render.HTMLToMarkdown(htmlBody)
	if err != nil || text == "" {
		text = "Please view this email in an HTML-capable email client."
	}

	boundary := "boundary-logbook"
	var msg bytes.Buffer
	writeHeaders(&msg, to, s.fromHeader(), subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", text)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func writeHeaders(msg *bytes.Buffer, to []string, from, subject string) {
	fmt.Fprintf(msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(msg, "From: %s\r\n", from)
	fmt.Fprintf(msg, "Subject: %s\r\n", sanitizeHeader(subject))
}

func sanitizeHeader(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

type MentionData struct {
	AppName  string
	UserName string
	Author   string
	Title    string
	Excerpt  string
	EntryURL string
}

// SendMentionEmail implements mentions.Mailer.
func (s *Service) SendMentionEmail(to mentions.Recipient, notice mentions.Notice) error {
	if to.Email == "" {
		return fmt.Errorf("user %s has no email address", to.UserID)
	}
	data := MentionData{
		AppName:  s.config.AppName,
		UserName: firstNonBlank(to.Name, to.Email),
		Author:   firstNonBlank(notice.Author, "Someone"),
		Title:    firstNonBlank(notice.Title, "an entry"),
		Excerpt:  notice.Excerpt,
		EntryURL: notice.URL,
	}
	body, err := renderTemplate(mentionTemplate, data)
	if err != nil {
		return fmt.Errorf("render mention template: %w", err)
	}
	subject := fmt.Sprintf("%s mentioned you in %s", data.Author, data.Title)
	return s.SendHTMLEmail([]string{to.Email}, subject, body)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var mentionTemplate = template.Must(template.New("mention").Parse(mentionEmailTemplate))

func renderTemplate(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const mentionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were mentioned in {{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .excerpt { background: #f5f5f5; border-left: 3px solid #0066cc; padding: 12px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.UserName}},</p>

    <p>{{.Author}} mentioned you in <strong>{{.Title}}</strong>.</p>
    {{if .Excerpt}}
    <div class="excerpt">{{.Excerpt}}</div>
    {{end}}
    {{if .EntryURL}}
    <p><a href="{{.EntryURL}}">Open the entry</a></p>
    {{end}}

    <div class="footer">
        <p>You receive this email because someone mentioned you in {{.AppName}}.</p>
    </div>
</body>
</html>`
