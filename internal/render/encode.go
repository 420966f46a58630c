package render

import (
	"html"
	"strings"
)

// Encoder serializes a page into file contents.
type Encoder func(Page) []byte

// EncoderFor picks the encoder for a published file extension.
func EncoderFor(ext string) Encoder {
	if strings.EqualFold(strings.TrimPrefix(ext, "."), "html") {
		return EncodeHTML
	}
	return EncodeText
}

// EncodeHTML wraps every block in its own <pre> element so line structure
// survives in a browser.
func EncodeHTML(p Page) []byte {
	var b strings.Builder
	for _, block := range p.Blocks {
		text := html.EscapeString(block.Text)
		switch block.Kind {
		case KindHeader:
			b.WriteString("<pre><strong><big>" + text + "</big></strong></pre>")
		case KindFooter:
			b.WriteString("<pre><strong>" + text + "</strong></pre>")
		default:
			b.WriteString("<pre>" + text + "</pre>")
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// EncodeText writes one block per line.
func EncodeText(p Page) []byte {
	var b strings.Builder
	for _, block := range p.Blocks {
		b.WriteString(block.Text)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
