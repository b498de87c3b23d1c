package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Field selects one value relative to a container element.
type Field struct {
	Selector string // CSS; empty means the container itself
	Attr     string // attribute to read; empty means text content
}

// Spec describes a repeated block on a rendered page.
type Spec struct {
	Container string
	Fields    map[string]Field
}

// ExtractHTML parses a rendered document and returns one map per container
// match. Missing fields are returned as "".
func ExtractHTML(html string, spec Spec) ([]map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	var rows []map[string]string
	doc.Find(spec.Container).Each(func(_ int, s *goquery.Selection) {
		row := make(map[string]string, len(spec.Fields))
		for name, f := range spec.Fields {
			target := s
			if f.Selector != "" {
				target = s.Find(f.Selector).First()
			}
			row[name] = fieldValue(target, f.Attr)
		}
		rows = append(rows, row)
	})
	return rows, nil
}

// ExtractText returns the collapsed text of every element matching sel,
// separated by newlines.
func ExtractText(html, sel string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var parts []string
	doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n"), nil
}

func fieldValue(s *goquery.Selection, attr string) string {
	if s.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapse(s.Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
