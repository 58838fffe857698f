package mail

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// PreviewMaxBytes bounds the preview length.
const PreviewMaxBytes = 255

var previewSkip = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true, "title": true,
}

var previewBreaks = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "td": true,
	"th": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "blockquote": true, "pre": true, "table": true,
}

// Preview returns a whitespace-collapsed excerpt of the body, preferring
// plain text and falling back to the html stripped of markup.
func Preview(text, htmlBody string) string {
	source := text
	if strings.TrimSpace(source) == "" {
		source = StripHTML(htmlBody)
	}
	return truncate(strings.Join(strings.Fields(source), " "), PreviewMaxBytes)
}

// StripHTML returns the text content of an html fragment.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if previewSkip[tag] {
				skip++
			}
			if previewBreaks[tag] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if previewSkip[tag] && skip > 0 {
				skip--
			}
			if previewBreaks[tag] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
