package export

import (
	"context"
	"fmt"
)

// Service renders transcripts.
type Service struct {
	pdf func(ctx context.Context, html string) ([]byte, error)
}

func NewService() *Service {
	return &Service{pdf: renderPDF}
}

// Export renders the transcript in the requested format.
func (s *Service) Export(ctx context.Context, t Transcript, format Format) (*Result, error) {
	html, err := RenderTranscriptHTML(t)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	name := sanitizeFilename(t.Title)
	switch format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: name + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: name + ".pdf",
			MimeType: "application/pdf",
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
