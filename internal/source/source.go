package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/amishk599/jobflow/internal/browser"
	"github.com/amishk599/jobflow/internal/mailbox"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/ratelimit"
	"github.com/amishk599/jobflow/internal/retry"
	"github.com/amishk599/jobflow/internal/workflow"
)

// Step names shared by the provider graphs.
const (
	StepLogin       = "login"
	StepFetchPage   = "fetch_page"
	StepFetchDetail = "fetch_detail"
	StepFetchMail   = "fetch_mail"
	StepParse       = "parse"
	StepClassify    = "classify"
	StepSummarize   = "summarize"
)

// State value keys.
const (
	keyCookies   = "cookies"
	keyMorePages = "more_pages"
	keyMessages  = "messages"
	keySummary   = "summary"

	cursorPage   = "page"
	cursorDetail = "detail"
)

// Deps are the capabilities the provider graphs are built from. Nil Driver or
// Mailbox makes the graphs that need them fail at their first step with a
// non-retryable error.
type Deps struct {
	Driver     browser.Driver
	Mailbox    mailbox.Mailbox
	Classifier model.Classifier
	Filter     model.ListingFilter // optional keyword pre-filter
	Limiter    *ratelimit.KeyedLimiter

	StepPolicy     retry.Policy // browser and mailbox steps
	ClassifyPolicy retry.Policy // per posting inside the classify step

	OTPWait     mailbox.OTPWait
	PageSettle  time.Duration // wait after client-side pagination clicks
	DetailBatch int           // postings enriched per fetch_detail invocation

	Logger *slog.Logger
}

func (d Deps) detailBatch() int {
	if d.DetailBatch <= 0 {
		return 10
	}
	return d.DetailBatch
}

// Table returns the static workflow table, one entry per provider. Graphs are
// built lazily by the registry.
func Table(d Deps) []workflow.Entry {
	return []workflow.Entry{
		{Name: string(model.SourceConnectingExpertise), Factory: func() (*workflow.Graph, error) {
			return connectingExpertise().graph(d)
		}},
		{Name: string(model.SourceProUnity), Factory: func() (*workflow.Graph, error) {
			return proUnity(d).graph(d)
		}},
		{Name: string(model.SourceBNPPF), Factory: func() (*workflow.Graph, error) {
			return bnppfFeed.graph(d)
		}},
		{Name: string(model.SourceElia), Factory: func() (*workflow.Graph, error) {
			return eliaFeed.graph(d)
		}},
		{Name: string(model.SourceAGInsurance), Factory: func() (*workflow.Graph, error) {
			return agInsuranceFeed.graph(d)
		}},
	}
}

// summarizeStep renders a short human-readable summary of the run into the state.
func summarizeStep(_ context.Context, s workflow.State) (workflow.State, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s job(s)", len(s.Listings), s.Source)
	for i, l := range s.Listings {
		fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, orNA(l.Title), l.Reference)
		if l.Client != "" {
			fmt.Fprintf(&b, " - %s", l.Client)
		}
	}
	s.Set(keySummary, b.String())
	s.Logf("summary: %d listing(s), %d error(s)", len(s.Listings), len(s.Errors))
	return s, nil
}

// Summary returns the text produced by the summarize step, if it ran.
func Summary(s workflow.State) string {
	return s.String(keySummary)
}

func orNA(v string) string {
	if v == "" {
		return "N/A"
	}
	return v
}

// absoluteURL resolves href against base.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// lastSegment returns the final path segment of a URL, used as a reference
// when a source shows none.
func lastSegment(raw string) string {
	u, err := url.Parse(raw)
	path := raw
	if err == nil {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return path
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}
