// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}
	msg := s.buildMessage(to, subject, textBody, htmlBody)
	return s.send(s.server, s.auth, s.config.From, to, msg)
}

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-huddle"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// EventReadyData fills the mail sent when a vote creates an event room.
type EventReadyData struct {
	AppName   string
	GroupName string
	Title     string
	StartsAt  *time.Time
	RoomURL   string
	YesCount  int
	Threshold int
	ExpiresAt time.Time
}

type InviteData struct {
	AppName     string
	InviterName string
	Title       string
	JoinURL     string
	ExpiresAt   time.Time
}

// SendEventReady tells every participant that their event room is live.
func (s *Service) SendEventReady(to []string, data EventReadyData) error {
	if data.AppName == "" {
		data.AppName = "Huddle"
	}
	html, err := renderTemplate(eventReadyTemplate, data)
	if err != nil {
		return fmt.Errorf("render event ready template: %w", err)
	}
	text := fmt.Sprintf("%s is happening. %d of %d needed said yes. Join the room: %s", data.Title, data.YesCount, data.Threshold, data.RoomURL)
	return s.SendHTMLEmail(to, fmt.Sprintf("It's on: %s", data.Title), text, html)
}

// SendInvite mails a room invite link.
func (s *Service) SendInvite(to string, data InviteData) error {
	if data.AppName == "" {
		data.AppName = "Huddle"
	}
	html, err := renderTemplate(inviteTemplate, data)
	if err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	text := fmt.Sprintf("%s invited you to %s: %s", data.InviterName, data.Title, data.JoinURL)
	return s.SendHTMLEmail([]string{to}, fmt.Sprintf("You're invited: %s", data.Title), text, html)
}

var templateFuncs = template.FuncMap{
	"when": func(t time.Time) string { return t.UTC().Format("Mon Jan 2, 15:04 MST") },
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const eventReadyTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}} is on</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #e4572e; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #e4572e; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Title}} is happening</h2>

    <p>{{.YesCount}} people in {{.GroupName}} said yes ({{.Threshold}} needed).</p>
    {{if .StartsAt}}<p>Starts {{when .StartsAt}}.</p>{{end}}

    <p>
        <a href="{{.RoomURL}}" class="button">Open the event room</a>
    </p>

    <div class="footer">
        <p>The room closes {{when .ExpiresAt}}.</p>
    </div>
</body>
</html>`

const inviteTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You're invited to {{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #e4572e; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <h2>{{.InviterName}} invited you to {{.Title}}</h2>

    <p>
        <a href="{{.JoinURL}}" class="button">Join</a>
    </p>

    <div class="footer">
        <p>This invite stops working {{when .ExpiresAt}}.</p>
    </div>
</body>
</html>`
