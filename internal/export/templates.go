package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var transcriptTemplate = template.Must(
	template.New("transcript.html").Funcs(template.FuncMap{
		"join": strings.Join,
		"formatTime": func(t time.Time) string {
			return t.UTC().Format("Jan 2, 2006 15:04 MST")
		},
	}).ParseFS(templateFS, "templates/transcript.html"),
)

// RenderTranscriptHTML renders the transcript template.
func RenderTranscriptHTML(t Transcript) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}
