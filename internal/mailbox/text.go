package mailbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// HTMLToText renders an HTML mail body as plain text with one text node per
// line. Script and style content is dropped.
func HTMLToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return collapseLines(htmlTag.ReplaceAllString(body, "\n"))
	}
	doc.Find("script, style, head").Remove()

	var b strings.Builder
	for _, n := range doc.Nodes {
		writeText(&b, n)
	}
	return collapseLines(b.String())
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

func writeText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte('\n')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// collapseLines trims every line, collapses inner whitespace and drops blank lines.
func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// MaxFieldLen caps single-line field values.
const MaxFieldLen = 200

// ExtractField returns the first line of text following label, as in
// "Work location: Brussels". It returns "" if the label is absent.
func ExtractField(text, label string) string {
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(label) + `\s*[:\-]?\s*(.+?)(?:\n|$)`)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	v := strings.Join(strings.Fields(m[1]), " ")
	if r := []rune(v); len(r) > MaxFieldLen {
		v = string(r[:MaxFieldLen])
	}
	return v
}

// MaxSectionLen caps multi-line section values.
const MaxSectionLen = 3000

// ExtractSection returns the lines between the line holding start and the
// next occurrence of end (or the end of text).
func ExtractSection(text, start, end string) string {
	re, err := regexp.Compile(`(?is)` + regexp.QuoteMeta(start) + `[^\n]*(?:\n|$)(.*?)(?:` + regexp.QuoteMeta(end) + `|$)`)
	if err != nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	v := collapseLines(m[1])
	if r := []rune(v); len(r) > MaxSectionLen {
		v = string(r[:MaxSectionLen])
	}
	return v
}
