package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// ReduceHTML converts status markup to plain text. Every <br> and every
// closing </p> becomes a newline, text is copied verbatim with entities
// decoded, and all other markup is dropped. Line endings are normalized to
// \n, so text without tags comes back unchanged apart from CRLF and CR.
func ReduceHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "p" {
				b.WriteByte('\n')
			}
		}
	}
}
