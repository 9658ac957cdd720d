package email

import (
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
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

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capturingService(t *testing.T) (*Service, *[]sentMail) {
	t.Helper()
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Huddle"})
	var sent []sentMail
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return svc, &sent
}

func TestSendEventReady(t *testing.T) {
	svc, sent := capturingService(t)
	starts := time.Date(2026, 5, 2, 18, 30, 0, 0, time.UTC)

	err := svc.SendEventReady([]string{"a@example.com", "b@example.com"}, EventReadyData{
		GroupName: "Climbers",
		Title:     "Bouldering night",
		StartsAt:  &starts,
		RoomURL:   "https://huddle.test/rooms/room_1",
		YesCount:  3,
		Threshold: 3,
		ExpiresAt: starts.Add(14 * time.Hour),
	})
	if err != nil {
		t.Fatalf("SendEventReady failed: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(*sent))
	}

	mail := (*sent)[0]
	if mail.addr != "smtp.example.com:587" || mail.from != "noreply@example.com" {
		t.Fatalf("unexpected envelope: %+v", mail)
	}
	for _, want := range []string{
		"To: a@example.com, b@example.com",
		"From: Huddle <noreply@example.com>",
		"Subject: It's on: Bouldering night",
		"https://huddle.test/rooms/room_1",
		"Climbers",
		"Sat May 2, 18:30 UTC",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendEventReadyOmitsStartWhenUnscheduled(t *testing.T) {
	svc, sent := capturingService(t)
	if err := svc.SendEventReady([]string{"a@example.com"}, EventReadyData{Title: "Pizza", ExpiresAt: time.Now()}); err != nil {
		t.Fatalf("SendEventReady failed: %v", err)
	}
	if strings.Contains((*sent)[0].msg, "Starts ") {
		t.Fatal("unscheduled event should not mention a start time")
	}
}

func TestSendSkipsEmptyRecipients(t *testing.T) {
	svc, sent := capturingService(t)
	if err := svc.SendHTMLEmail(nil, "s", "t", "<p>h</p>"); err != nil {
		t.Fatalf("SendHTMLEmail failed: %v", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(*sent))
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendInvite("a@example.com", InviteData{Title: "x"}); err == nil {
		t.Fatal("expected error from unconfigured service")
	}
}

func TestRenderInviteTemplate(t *testing.T) {
	html, err := renderTemplate(inviteTemplate, InviteData{
		AppName:     "Huddle",
		InviterName: "Sam",
		Title:       "Movie <night>",
		JoinURL:     "https://huddle.test/invites/abc",
		ExpiresAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "Sam invited you") {
		t.Error("template should contain inviter")
	}
	if !strings.Contains(html, "Movie &lt;night&gt;") {
		t.Error("template should escape the title")
	}
	if !strings.Contains(html, "https://huddle.test/invites/abc") {
		t.Error("template should contain join URL")
	}
}
