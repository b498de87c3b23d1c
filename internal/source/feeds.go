package source

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/amishk599/jobflow/internal/mailbox"
	"github.com/amishk599/jobflow/internal/model"
)

var bnppfFeed = mailFeed{
	source:  model.SourceBNPPF,
	sender:  "cces@bnpparibasfortis.com",
	subject: "New BNP Paribas Fortis request for external staff",
	parse:   parseBNPPF,
}

var (
	bnppfRef   = regexp.MustCompile(`\(([A-Z]{3}\d+)\)`)
	bnppfTitle = regexp.MustCompile(`(?i)external staff\s*:\s*(.+?)\s*\([A-Z]{3}\d+\)`)
)

func parseBNPPF(m mailbox.Message) []model.Listing {
	text := m.Text()
	l := model.Listing{
		Location:  mailbox.ExtractField(text, "Work location"),
		StartDate: mailbox.ExtractField(text, "Start date"),
		EndDate:   mailbox.ExtractField(text, "End date"),
		Skills:    mailbox.ExtractSection(text, "Technical experience", "Business experience"),
		RawData: map[string]any{
			"description": mailbox.ExtractSection(text, "Description", "Language requirements"),
			"languages":   mailbox.ExtractField(text, "Language requirements"),
			"education":   mailbox.ExtractField(text, "Education"),
			"telework":    mailbox.ExtractField(text, "Telework"),
			"subject":     m.Subject,
		},
	}
	if sm := bnppfRef.FindStringSubmatch(m.Subject); sm != nil {
		l.Reference = sm[1]
	}
	if sm := bnppfTitle.FindStringSubmatch(m.Subject); sm != nil {
		l.Title = strings.TrimSpace(sm[1])
	} else {
		l.Title = mailbox.ExtractField(text, "Job title")
	}
	return []model.Listing{l}
}

var eliaFeed = mailFeed{
	source:  model.SourceElia,
	sender:  "tapfin.support@tapfin.be",
	subject: "TAPFIN for Elia has launched a new request",
	parse:   parseElia,
}

var (
	eliaRef   = regexp.MustCompile(`SRQ\d+`)
	eliaTitle = regexp.MustCompile(`(?i)request for service:\s*(.+?)\s*\(SRQ`)
	eliaLink  = regexp.MustCompile(`https://tapfin[^\s<>"]+`)
)

func parseElia(m mailbox.Message) []model.Listing {
	text := m.Text()
	l := model.Listing{
		Client:    "Elia",
		StartDate: mailbox.ExtractField(text, "Start Date"),
		EndDate:   mailbox.ExtractField(text, "End Date"),
		RawData: map[string]any{
			"description": text,
			"department":  mailbox.ExtractField(text, "Department"),
			"segment":     mailbox.ExtractField(text, "Segment"),
			"deadline":    mailbox.ExtractField(text, "Deadline for Proposals"),
			"subject":     m.Subject,
		},
	}
	if ref := eliaRef.FindString(m.Subject); ref != "" {
		l.Reference = ref
	} else {
		l.Reference = eliaRef.FindString(text)
	}
	if sm := eliaTitle.FindStringSubmatch(m.Subject); sm != nil {
		l.Title = strings.TrimSpace(sm[1])
	} else {
		l.Title = mailbox.ExtractField(text, "Service")
	}
	// Links survive only in the raw HTML attributes.
	if link := eliaLink.FindString(m.Body); link != "" {
		l.URL = link
	}
	return []model.Listing{l}
}

var agInsuranceFeed = mailFeed{
	source: model.SourceAGInsurance,
	sender: "externis@email.aginsurance.be",
	parse:  parseAGInsurance,
}

const agMarker = "AG Insurance is currently looking for"

var (
	agTextRef = regexp.MustCompile(`^(\d{4}[A-Z]{3,})`)
	agColumns = regexp.MustCompile(`\s{2,}`)
)

// parseAGInsurance reads the digest table (Reference, #Required, Job
// Description, Client, #Months, Location), falling back to plain-text rows.
func parseAGInsurance(m mailbox.Message) []model.Listing {
	if !strings.Contains(m.Body, agMarker) && !strings.Contains(m.Text(), agMarker) {
		return nil
	}
	var out []model.Listing
	if m.HTML {
		out = agFromTables(m.Body)
	}
	if len(out) == 0 {
		out = agFromText(m.Text())
	}
	return out
}

func agFromTables(body string) []model.Listing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var out []model.Listing
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		header := false
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			var cells []string
			row.Find("td, th").Each(func(_ int, c *goquery.Selection) {
				cells = append(cells, strings.Join(strings.Fields(c.Text()), " "))
			})
			if !header {
				for _, c := range cells {
					if strings.Contains(c, "Reference") {
						header = true
						return
					}
				}
				return
			}
			if len(cells) < 5 {
				return
			}
			ref := cells[0]
			if ref == "" || strings.EqualFold(ref, "reference") || strings.Contains(ref, "#") {
				return
			}
			out = append(out, agListing(ref, cells[1:]))
		})
	})
	return out
}

func agFromText(text string) []model.Listing {
	var out []model.Listing
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		sm := agTextRef.FindStringSubmatch(line)
		if sm == nil {
			continue
		}
		rest := strings.TrimSpace(line[len(sm[1]):])
		var parts []string
		for _, p := range strings.Split(rest, "\t") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) <= 1 {
			parts = parts[:0]
			for _, p := range agColumns.Split(rest, -1) {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
		}
		out = append(out, agListing(sm[1], parts))
	}
	return out
}

// agListing maps the columns after the reference.
func agListing(ref string, cols []string) model.Listing {
	col := func(i int) string {
		if i < len(cols) {
			return cols[i]
		}
		return ""
	}
	required := col(0)
	if required == "" {
		required = "1"
	}
	return model.Listing{
		Reference: ref,
		Title:     col(1),
		Client:    col(2),
		Location:  col(4),
		RawData: map[string]any{
			"required_consultants": required,
			"duration_months":      col(3),
			"description":          col(1),
		},
	}
}
