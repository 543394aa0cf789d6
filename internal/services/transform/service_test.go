package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/taskferry/internal/common"
)

func TestHTMLToText(t *testing.T) {
	svc := NewService(common.GetLogger())

	tests := []struct {
		name     string
		input    string
		contains []string
		exact    string
	}{
		{name: "empty", input: "   ", exact: ""},
		{name: "plain text with entities", input: " Tom &amp; Jerry ", exact: "Tom & Jerry"},
		{name: "paragraphs", input: "<p>Hello</p><p>World</p>", exact: "Hello\n\nWorld"},
		{name: "bold and link", input: `<p><strong>Note</strong> see <a href="https://example.test/x">docs</a></p>`, contains: []string{"**Note**", "[docs](https://example.test/x)"}},
		{name: "list", input: "<ul><li>one</li><li>two</li></ul>", contains: []string{"one", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := svc.HTMLToText(tt.input)
			if tt.contains == nil {
				assert.Equal(t, tt.exact, out)
				return
			}
			for _, c := range tt.contains {
				assert.Contains(t, out, c)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	svc := NewService(common.GetLogger())
	out := svc.stripTags("<div>First<br>line</div><p>a &lt; b</p><script>x()</script>")
	assert.Contains(t, out, "First\nline")
	assert.Contains(t, out, "a < b")
	assert.NotContains(t, out, "<div>")
}

func TestExtractURLs(t *testing.T) {
	html := `<p>See <a href="https://files.example.test/report.pdf">report</a> and <img src="https://cdn.example.test/a.png"></p>
	<p>Also https://example.test/page, and again <a href="https://files.example.test/report.pdf">dup</a></p>
	<a href="/relative">rel</a><a href="mailto:x@example.test">mail</a>`
	plain := "Plain mention (https://plain.example.test/doc.docx). Done."

	urls := ExtractURLs(html, plain, "")

	assert.Equal(t, []string{
		"https://files.example.test/report.pdf",
		"https://cdn.example.test/a.png",
		"https://example.test/page",
		"https://plain.example.test/doc.docx",
	}, urls)
}
