package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleTranscript() Transcript {
	starts := time.Date(2026, 6, 5, 19, 0, 0, 0, time.UTC)
	ends := starts.Add(3 * time.Hour)
	return Transcript{
		RoomID:       "room_1",
		Title:        "Friday <climbing>",
		Description:  "North wall",
		GroupName:    "Climbers",
		StartsAt:     &starts,
		EndsAt:       &ends,
		ExpiresAt:    ends.Add(12 * time.Hour),
		Participants: []string{"Ana", "Ben"},
		Messages: []Line{
			{Author: "Ana", Content: "Bring chalk", At: starts.Add(-time.Hour)},
			{Author: "Ben", Content: "On it", At: starts.Add(-50 * time.Minute)},
		},
		GeneratedAt: starts,
	}
}

func TestRenderTranscriptHTML(t *testing.T) {
	html, err := RenderTranscriptHTML(sampleTranscript())
	if err != nil {
		t.Fatalf("RenderTranscriptHTML failed: %v", err)
	}

	for _, want := range []string{
		"Friday &lt;climbing&gt;",
		"Climbers",
		"Going: Ana, Ben",
		"Bring chalk",
		"Jun 5, 2026 19:00 UTC to Jun 5, 2026 22:00 UTC",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
	if strings.Index(html, "Bring chalk") > strings.Index(html, "On it") {
		t.Error("messages should keep their order")
	}
	if strings.Contains(html, "This room closed") {
		t.Error("live room should not show closed banner")
	}
}

func TestRenderTranscriptHTMLEmptyAndExpired(t *testing.T) {
	tr := Transcript{Title: "Pizza", GroupName: "Friends", Expired: true, ExpiresAt: time.Now()}
	html, err := RenderTranscriptHTML(tr)
	if err != nil {
		t.Fatalf("RenderTranscriptHTML failed: %v", err)
	}
	if !strings.Contains(html, "No messages.") || !strings.Contains(html, "This room closed") {
		t.Fatalf("unexpected HTML: %s", html)
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService()
	result, err := svc.Export(context.Background(), sampleTranscript(), FormatHTML)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Filename != "Friday-climbing.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result: %s %s", result.Filename, result.MimeType)
	}
}

func TestExportPDFUsesRenderer(t *testing.T) {
	svc := NewService()
	var gotHTML string
	svc.pdf = func(_ context.Context, html string) ([]byte, error) {
		gotHTML = html
		return []byte("%PDF-1.7"), nil
	}

	result, err := svc.Export(context.Background(), sampleTranscript(), FormatPDF)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if string(result.Data) != "%PDF-1.7" || result.MimeType != "application/pdf" || result.Filename != "Friday-climbing.pdf" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(gotHTML, "Bring chalk") {
		t.Fatal("renderer should receive the transcript HTML")
	}
}

func TestExportPDFMissingChrome(t *testing.T) {
	svc := NewService()
	svc.pdf = func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}
	if _, err := svc.Export(context.Background(), sampleTranscript(), FormatPDF); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatHTML},
		{in: "html", want: FormatHTML},
		{in: "pdf", want: FormatPDF},
		{in: "docx", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Friday climbing":      "Friday-climbing",
		"***":                  "transcript",
		"Pizza & beer @ Sam's": "Pizza--beer--Sams",
	}
	tests[strings.Repeat("a", 80)] = strings.Repeat("a", 50)
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b<é"); got != "a%20b%3C%C3%A9" {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 6, 5, 19, 0, 0, 0, time.UTC)
	if got := objectKey("room_1", "x.pdf", now); got != "rooms/room_1/20260605T190000Z-x.pdf" {
		t.Fatalf("unexpected key: %s", got)
	}
}
