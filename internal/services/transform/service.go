// Package transform converts upstream rich text to the plain text used in
// CSV rows and replicated issues, and discovers links inside it.
package transform

import (
	"html"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
	"github.com/ternarybob/arbor"
)

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaces     = regexp.MustCompile(`[ \t]+`)
)

// Service converts HTML bodies to markdown-flavoured plain text
type Service struct {
	logger    arbor.ILogger
	converter *md.Converter
	policy    *bluemonday.Policy
}

// NewService creates a new transform service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger:    logger,
		converter: md.NewConverter("", true, nil),
		policy:    bluemonday.StrictPolicy(),
	}
}

// HTMLToText converts an HTML body to text. Input without markup is returned
// trimmed. Conversion failures and empty output fall back to tag stripping.
func (s *Service) HTMLToText(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	if !strings.Contains(body, "<") {
		return strings.TrimSpace(html.UnescapeString(body))
	}

	converted, err := s.converter.ConvertString(body)
	if err != nil {
		s.logger.Warn().Err(err).Int("html_length", len(body)).Msg("HTML to markdown conversion failed, using fallback")
		return s.stripTags(body)
	}

	trimmed := strings.TrimSpace(converted)
	if trimmed == "" {
		s.logger.Debug().
			Int("html_length", len(body)).
			Msg("HTML to markdown conversion produced empty output, applying fallback")
		return s.stripTags(body)
	}

	return blankLines.ReplaceAllString(trimmed, "\n\n")
}

// stripTags removes all markup with the strict sanitizer policy
func (s *Service) stripTags(body string) string {
	body = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "\n\n").Replace(body)
	stripped := html.UnescapeString(s.policy.Sanitize(body))

	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
