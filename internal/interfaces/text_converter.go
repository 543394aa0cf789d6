package interfaces

// TextConverter turns rich-text (HTML) bodies into plain text
type TextConverter interface {
	HTMLToText(html string) string
}
