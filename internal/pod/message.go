package pod

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// MessageML wraps plain text in a messageML envelope, escaping markup.
func MessageML(text string) string {
	return "<messageML>" + html.EscapeString(text) + "</messageML>"
}

// PlainText strips the presentationML markup of a received message down
// to its text.
func PlainText(presentationML string) string {
	text := tagPattern.ReplaceAllString(presentationML, " ")
	return strings.Join(strings.Fields(html.UnescapeString(text)), " ")
}
