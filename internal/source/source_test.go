package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amishk599/jobflow/internal/browser"
	"github.com/amishk599/jobflow/internal/filter"
	"github.com/amishk599/jobflow/internal/mailbox"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/persist"
	"github.com/amishk599/jobflow/internal/retry"
	"github.com/amishk599/jobflow/internal/store"
	"github.com/amishk599/jobflow/internal/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

// fakeSite is a browser driver serving canned pages. The list URL serves
// listPages in order, advanced by clicks on nextSel.
type fakeSite struct {
	pages     map[string]string
	listURL   string
	listPages []string
	nextSel   string

	// slowWaits makes WaitVisible on a selector hit its wait bound this many
	// times before the element shows up.
	slowWaits map[string]int

	mu       sync.Mutex
	opened   int
	restored int
	filled   map[string]string
}

func (f *fakeSite) Open(_ context.Context) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return &fakeSession{site: f}, nil
}

type fakeSession struct {
	site *fakeSite
	url  string
	page int
}

func (s *fakeSession) html() string {
	if s.url == s.site.listURL && s.page < len(s.site.listPages) {
		return s.site.listPages[s.page]
	}
	return s.site.pages[s.url]
}

func (s *fakeSession) find(sel string) (bool, error) {
	if browser.IsXPath(sel) {
		return false, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.html()))
	if err != nil {
		return false, err
	}
	return doc.Find(sel).Length() > 0, nil
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	if _, ok := s.site.pages[url]; !ok && url != s.site.listURL {
		return fmt.Errorf("navigate %s: 404", url)
	}
	s.url = url
	s.page = 0
	return nil
}

func (s *fakeSession) WaitVisible(ctx context.Context, sel string, _ time.Duration) error {
	s.site.mu.Lock()
	if s.site.slowWaits[sel] > 0 {
		s.site.slowWaits[sel]--
		s.site.mu.Unlock()
		waitCtx, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-waitCtx.Done()
		return fmt.Errorf("waiting for %s: %w", sel, waitCtx.Err())
	}
	s.site.mu.Unlock()
	if browser.IsXPath(sel) {
		return nil
	}
	ok, err := s.find(sel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("waiting for %s: %w", sel, context.DeadlineExceeded)
	}
	return nil
}

func (s *fakeSession) Exists(_ context.Context, sel string, _ time.Duration) (bool, error) {
	return s.find(sel)
}

func (s *fakeSession) Fill(_ context.Context, sel, value string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	if s.site.filled == nil {
		s.site.filled = make(map[string]string)
	}
	s.site.filled[sel] = value
	return nil
}

func (s *fakeSession) Click(_ context.Context, sel string) error {
	if sel == s.site.nextSel {
		s.page++
	}
	return nil
}

func (s *fakeSession) Text(_ context.Context, sel string) (string, error) {
	return browser.ExtractText(s.html(), sel)
}

func (s *fakeSession) Attribute(_ context.Context, _, _ string) (string, bool, error) {
	return "", false, nil
}

func (s *fakeSession) HTML(_ context.Context) (string, error) { return s.html(), nil }

func (s *fakeSession) Cookies(_ context.Context) ([]browser.Cookie, error) {
	return []browser.Cookie{{Name: "SESSION", Value: "abc", Domain: "app.connecting-expertise.com", Path: "/"}}, nil
}

func (s *fakeSession) SetCookies(_ context.Context, cookies []browser.Cookie) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	if len(cookies) > 0 {
		s.site.restored++
	}
	return nil
}

func (s *fakeSession) Close() error { return nil }

// fakeClassifier judges postings by title. Titles in fail always error; a title
// in deadlines times out that many times before it is judged.
type fakeClassifier struct {
	irrelevant []string
	fail       []string
	deadlines  map[string]int

	mu    sync.Mutex
	calls map[string]int
}

func (c *fakeClassifier) Classify(ctx context.Context, text string) (model.Judgment, error) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	title := mailbox.ExtractField(text, "Title")
	c.calls[title]++
	timedOut := c.deadlines[title] > 0
	if timedOut {
		c.deadlines[title]--
	}
	c.mu.Unlock()

	if timedOut {
		return model.Judgment{}, fmt.Errorf("POST /v1/chat/completions: %w", context.DeadlineExceeded)
	}

	if err := ctx.Err(); err != nil {
		return model.Judgment{}, err
	}
	for _, f := range c.fail {
		if strings.Contains(title, f) {
			return model.Judgment{}, errors.New("provider unavailable")
		}
	}
	for _, ir := range c.irrelevant {
		if strings.Contains(title, ir) {
			return model.Judgment{Relevant: false}, nil
		}
	}
	return model.Judgment{Relevant: true, Summary: "Summary of " + title}, nil
}

func (c *fakeClassifier) callsFor(title string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[title]
}

type fakeMailbox struct {
	msgs []mailbox.Message
	err  error
}

func (m *fakeMailbox) Search(_ context.Context, _ mailbox.Query) ([]mailbox.Message, error) {
	return m.msgs, m.err
}

func testDeps() Deps {
	return Deps{
		Classifier:     &fakeClassifier{},
		StepPolicy:     retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		ClassifyPolicy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Logger:         discardLogger(),
	}
}

// --- connecting_expertise portal ---

const ceLoginPage = `<html><body>
<input id="username"><input id="password"><button id="kc-login">Sign in</button>
<button class="menu-user">me</button>
</body></html>`

func ceRow(ref, title, client string) string {
	return fmt.Sprintf(`<tr class="mat-mdc-row">
<td class="cdk-column-title">%s</td>
<td class="cdk-column-reference"><a href="/supplier/supplierrequest/%s">%s</a></td>
<td class="cdk-column-customer">%s</td>
<td class="cdk-column-createdAt">2026-10-18</td>
</tr>`, title, ref, ref, client)
}

func ceListPage(nextDisabled bool, rows ...string) string {
	disabled := ""
	if nextDisabled {
		disabled = ` disabled="true"`
	}
	return `<html><body><table>` + strings.Join(rows, "") + `</table>
<button class="mat-mdc-paginator-navigation-next"` + disabled + `>next</button></body></html>`
}

func ceDetailHTML(desc string, skills ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ce-detail-supplier-request>`)
	fmt.Fprintf(&b, `<ce-detail-description-supplier-request><p>%s</p></ce-detail-description-supplier-request>`, desc)
	for _, s := range skills {
		fmt.Fprintf(&b, `<ce-list-detail-supplier-skill>%s</ce-list-detail-supplier-skill>`, s)
	}
	b.WriteString(`</ce-detail-supplier-request></body></html>`)
	return b.String()
}

func newCESite() *fakeSite {
	detail := func(ref string) string { return ceJobsURL + "/" + ref }
	return &fakeSite{
		listURL: ceJobsURL,
		nextSel: connectingExpertise().nextSel,
		listPages: []string{
			ceListPage(false,
				ceRow("CE-101", "Senior Go Developer", "Acme Bank"),
				ceRow("CE-102", "Accountant", "Acme Bank"),
			),
			ceListPage(true,
				ceRow("CE-103", "Platform Engineer", "Telco"),
			),
		},
		pages: map[string]string{
			ceBaseURL:        ceLoginPage,
			detail("CE-101"): ceDetailHTML("Build payment services.", "Go", "Kubernetes"),
			detail("CE-102"): ceDetailHTML("Bookkeeping.", "Excel"),
			detail("CE-103"): ceDetailHTML("Run the platform.", "Terraform"),
		},
	}
}

func TestConnectingExpertise_FullRun(t *testing.T) {
	site := newCESite()
	classifier := &fakeClassifier{irrelevant: []string{"Accountant"}}
	d := testDeps()
	d.Driver = site
	d.Classifier = classifier
	d.DetailBatch = 2

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{workflow.InputUsername: "me@example.com", workflow.InputPassword: "secret"}
	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-1", model.SourceConnectingExpertise, input))

	require.Equal(t, model.StatusSucceeded, out.Status, "err: %v", out.Err)
	assert.Equal(t, []string{
		StepLogin, StepFetchPage, StepFetchPage, StepFetchDetail, StepFetchDetail, StepClassify, StepSummarize,
	}, out.Path)

	require.Len(t, final.Listings, 2)
	first := final.Listings[0]
	assert.Equal(t, "CE-101", first.Reference)
	assert.Equal(t, model.SourceConnectingExpertise, first.Source)
	assert.Equal(t, "Acme Bank", first.Client)
	assert.Equal(t, "Go, Kubernetes", first.Skills)
	assert.Equal(t, "https://app.connecting-expertise.com/supplier/supplierrequest/CE-101", first.URL)
	assert.Equal(t, "Summary of Senior Go Developer", first.DescriptionSummary)
	assert.Equal(t, "Build payment services.", first.RawData["description"])
	assert.Equal(t, 1, first.RawData["page"])

	second := final.Listings[1]
	assert.Equal(t, "CE-103", second.Reference)
	assert.Equal(t, 2, second.RawData["page"])

	assert.Empty(t, final.Candidates)
	assert.Equal(t, "me@example.com", site.filled[ceUser])
	assert.Equal(t, "secret", site.filled[cePassword])
	// login, two pages, two detail batches; all but login restore cookies.
	assert.Equal(t, 5, site.opened)
	assert.Equal(t, 4, site.restored)

	summary := Summary(final)
	assert.Contains(t, summary, "Found 2 connecting_expertise job(s)")
	assert.Contains(t, summary, "Senior Go Developer (CE-101) - Acme Bank")
}

func TestConnectingExpertise_MissingDetailPageKeepsOtherPostings(t *testing.T) {
	site := newCESite()
	delete(site.pages, ceJobsURL+"/CE-102")
	d := testDeps()
	d.Driver = site
	d.DetailBatch = 3

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{workflow.InputUsername: "me", workflow.InputPassword: "pw"}
	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-20", model.SourceConnectingExpertise, input))

	require.Equal(t, model.StatusSucceeded, out.Status, "err: %v", out.Err)
	assert.Equal(t, 1, final.Attempts[StepFetchDetail])
	require.Len(t, final.Listings, 3)

	byRef := make(map[string]model.Listing)
	for _, l := range final.Listings {
		byRef[l.Reference] = l
	}
	assert.Equal(t, "Go, Kubernetes", byRef["CE-101"].Skills)
	assert.Equal(t, "Terraform", byRef["CE-103"].Skills)

	missed := byRef["CE-102"]
	assert.Equal(t, "Accountant", missed.Title)
	assert.Empty(t, missed.Skills)
	assert.Contains(t, missed.RawData["detail_error"], "404")

	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "detail for CE-102")
}

func TestConnectingExpertise_LoginWaitTimeoutIsRetried(t *testing.T) {
	site := newCESite()
	site.slowWaits = map[string]int{ceLoggedIn: 2}
	d := testDeps()
	d.Driver = site

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{workflow.InputUsername: "me", workflow.InputPassword: "pw"}
	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-21", model.SourceConnectingExpertise, input))

	require.Equal(t, model.StatusSucceeded, out.Status, "err: %v", out.Err)
	assert.False(t, out.Cancelled)
	assert.Equal(t, 3, final.Attempts[StepLogin])
	assert.Len(t, final.Listings, 3)
}

func TestConnectingExpertise_LoginWaitTimeoutExhausted(t *testing.T) {
	site := newCESite()
	site.slowWaits = map[string]int{ceLoggedIn: 5}
	d := testDeps()
	d.Driver = site

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{workflow.InputUsername: "me", workflow.InputPassword: "pw"}
	_, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-22", model.SourceConnectingExpertise, input))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.False(t, out.Cancelled)
	assert.Equal(t, StepLogin, out.FailedStep())
	assert.Equal(t, 3, out.Attempts())
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestConnectingExpertise_MaxPagesStopsPagination(t *testing.T) {
	site := newCESite()
	d := testDeps()
	d.Driver = site

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{
		workflow.InputUsername: "me", workflow.InputPassword: "pw", workflow.InputMaxPages: "1",
	}
	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-2", model.SourceConnectingExpertise, input))

	require.Equal(t, model.StatusSucceeded, out.Status, "err: %v", out.Err)
	assert.Equal(t, 1, final.Cursor(cursorPage))
	assert.Len(t, final.Listings, 2)
}

func TestConnectingExpertise_MissingCredentialsFailsWithoutRetry(t *testing.T) {
	site := newCESite()
	d := testDeps()
	d.Driver = site

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	_, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-3", model.SourceConnectingExpertise, workflow.Input{}))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, StepLogin, out.FailedStep())
	assert.Equal(t, 1, out.Attempts())
	assert.ErrorIs(t, out.Err, model.ErrPermanent)
	assert.Equal(t, 0, site.opened)
}

func TestPortal_NoDriverIsPermanent(t *testing.T) {
	d := testDeps()
	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{workflow.InputUsername: "me", workflow.InputPassword: "pw"}
	_, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-4", model.SourceConnectingExpertise, input))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts())
	assert.ErrorIs(t, out.Err, model.ErrPermanent)
}

func TestPortal_EmptyListGoesStraightToSummary(t *testing.T) {
	site := newCESite()
	site.listPages = []string{`<html><body><p>No requests</p></body></html>`}
	d := testDeps()
	d.Driver = site

	g, err := connectingExpertise().graph(d)
	require.NoError(t, err)

	input := workflow.Input{workflow.InputUsername: "me", workflow.InputPassword: "pw"}
	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-5", model.SourceConnectingExpertise, input))

	require.Equal(t, model.StatusSucceeded, out.Status, "err: %v", out.Err)
	assert.Equal(t, []string{StepLogin, StepFetchPage, StepSummarize}, out.Path)
	assert.Empty(t, final.Listings)
}

func TestPuListing(t *testing.T) {
	l, ok := puListing(map[string]string{"title": "Go Dev", "cy": "job-post-name-link-4711"})
	require.True(t, ok)
	assert.Equal(t, "4711", l.Reference)
	assert.Equal(t, "https://platform.pro-unity.com/Freelancer/job-posts/4711", l.URL)

	l, ok = puListing(map[string]string{"title": "Go Dev", "href": "/Freelancer/job-posts/815"})
	require.True(t, ok)
	assert.Equal(t, "815", l.Reference)

	_, ok = puListing(map[string]string{"title": "No link"})
	assert.False(t, ok)
}

// --- classify ---

func TestClassifyStep_ExcludesPostingAfterRetriesExhausted(t *testing.T) {
	classifier := &fakeClassifier{fail: []string{"Flaky"}}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	step := ClassifyStep(classifier, nil, policy, discardLogger())

	s := workflow.NewState("exec-6", model.SourceBNPPF, nil)
	s.AddCandidates(
		model.Listing{Source: model.SourceBNPPF, Reference: "ABC1", Title: "Go Developer"},
		model.Listing{Source: model.SourceBNPPF, Reference: "ABC2", Title: "Flaky Role"},
		model.Listing{Source: model.SourceBNPPF, Reference: "ABC3", Title: "Data Engineer"},
	)

	out, err := step(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, out.Listings, 2)
	assert.Equal(t, "ABC1", out.Listings[0].Reference)
	assert.Equal(t, "ABC3", out.Listings[1].Reference)
	assert.Empty(t, out.Candidates)

	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "ABC2 excluded after 3 classification attempt(s)")
	assert.Equal(t, 3, classifier.callsFor("Flaky Role"))
	assert.Equal(t, 1, classifier.callsFor("Go Developer"))
}

func TestClassifyStep_ProviderDeadlineIsRetried(t *testing.T) {
	classifier := &fakeClassifier{deadlines: map[string]int{"Go Developer": 2}}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	step := ClassifyStep(classifier, nil, policy, discardLogger())

	s := workflow.NewState("exec-23", model.SourceBNPPF, nil)
	s.AddCandidates(model.Listing{Source: model.SourceBNPPF, Reference: "ABC1", Title: "Go Developer"})

	out, err := step(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, out.Listings, 1)
	assert.Equal(t, "Summary of Go Developer", out.Listings[0].DescriptionSummary)
	assert.Equal(t, 3, classifier.callsFor("Go Developer"))
	assert.Empty(t, out.Errors)
}

func TestClassifyStep_FilterSkipsClassifier(t *testing.T) {
	classifier := &fakeClassifier{}
	kw := filter.NewKeywordFilter([]string{"developer"}, nil, nil, nil)
	step := ClassifyStep(classifier, kw, retry.Policy{MaxAttempts: 1}, discardLogger())

	s := workflow.NewState("exec-7", model.SourceElia, nil)
	s.AddCandidates(
		model.Listing{Source: model.SourceElia, Reference: "SRQ1", Title: "Go Developer"},
		model.Listing{Source: model.SourceElia, Reference: "SRQ2", Title: "Project Manager"},
	)

	out, err := step(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, out.Listings, 1)
	assert.Equal(t, "SRQ1", out.Listings[0].Reference)
	assert.Equal(t, 0, classifier.callsFor("Project Manager"))
	assert.Empty(t, out.Errors)
}

func TestClassifyStep_CancellationFailsStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := ClassifyStep(&fakeClassifier{}, nil, retry.Policy{MaxAttempts: 3}, discardLogger())
	s := workflow.NewState("exec-8", model.SourceBNPPF, nil)
	s.AddCandidates(model.Listing{Source: model.SourceBNPPF, Reference: "ABC1", Title: "Go Developer"})

	_, err := step(ctx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassificationText(t *testing.T) {
	text := ClassificationText(model.Listing{
		Title:    "Go Developer",
		Location: "Brussels",
		RawData:  map[string]any{"description": "  Build things.  "},
	})
	assert.Equal(t, "Title: Go Developer\nLocation: Brussels\n\nBuild things.", text)
}

// --- mail feeds ---

func bnppfMessage(ref, title string) mailbox.Message {
	return mailbox.Message{
		ID:      ref,
		From:    "cces@bnpparibasfortis.com",
		Subject: fmt.Sprintf("New BNP Paribas Fortis request for external staff: %s (%s)", title, ref),
		Body: "Work location: Brussels\n" +
			"Start date: 2026-11-01\n" +
			"End date: 2027-04-30\n" +
			"Description\nBuild and run payment services.\n" +
			"Language requirements: English, French\n" +
			"Technical experience:\nGo\nKubernetes\n" +
			"Business experience:\nBanking\n",
		ReceivedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
}

func TestParseBNPPF(t *testing.T) {
	got := parseBNPPF(bnppfMessage("ABC123", "Senior Go Developer"))
	require.Len(t, got, 1)
	l := got[0]
	assert.Equal(t, "ABC123", l.Reference)
	assert.Equal(t, "Senior Go Developer", l.Title)
	assert.Equal(t, "Brussels", l.Location)
	assert.Equal(t, "2026-11-01", l.StartDate)
	assert.Equal(t, "2027-04-30", l.EndDate)
	assert.Contains(t, l.Skills, "Go")
	assert.Contains(t, l.Skills, "Kubernetes")
	assert.NotContains(t, l.Skills, "Banking")
	assert.Contains(t, l.RawData["description"], "payment services")
}

func TestParseElia(t *testing.T) {
	m := mailbox.Message{
		Subject: "TAPFIN for Elia has launched a new request for service: Data Engineer (SRQ12345)",
		Body: `<html><body><p>Department: Grid Operations</p><p>Start Date: 2026-12-01</p>
<a href="https://tapfin.example.com/requests/SRQ12345">Open</a></body></html>`,
		HTML: true,
	}
	got := parseElia(m)
	require.Len(t, got, 1)
	l := got[0]
	assert.Equal(t, "SRQ12345", l.Reference)
	assert.Equal(t, "Data Engineer", l.Title)
	assert.Equal(t, "Elia", l.Client)
	assert.Equal(t, "2026-12-01", l.StartDate)
	assert.Equal(t, "https://tapfin.example.com/requests/SRQ12345", l.URL)
	assert.Equal(t, "Grid Operations", l.RawData["department"])
}

func TestParseAGInsurance(t *testing.T) {
	t.Run("html table", func(t *testing.T) {
		m := mailbox.Message{
			HTML: true,
			Body: `<html><body><p>AG Insurance is currently looking for the following profiles.</p>
<table>
<tr><th>Reference</th><th>#Required</th><th>Job Description</th><th>Client</th><th>#Months</th><th>Location</th></tr>
<tr><td>2401ABC</td><td>2</td><td>Java Developer</td><td>AG Insurance</td><td>6</td><td>Brussels</td></tr>
<tr><td>2401ABD</td><td></td><td>Tester</td><td>AG Insurance</td><td>3</td><td>Antwerp</td></tr>
</table></body></html>`,
		}
		got := parseAGInsurance(m)
		require.Len(t, got, 2)
		assert.Equal(t, "2401ABC", got[0].Reference)
		assert.Equal(t, "Java Developer", got[0].Title)
		assert.Equal(t, "AG Insurance", got[0].Client)
		assert.Equal(t, "Brussels", got[0].Location)
		assert.Equal(t, "2", got[0].RawData["required_consultants"])
		assert.Equal(t, "6", got[0].RawData["duration_months"])
		assert.Equal(t, "1", got[1].RawData["required_consultants"])
	})

	t.Run("plain text rows", func(t *testing.T) {
		m := mailbox.Message{
			Body: "AG Insurance is currently looking for:\n" +
				"2402DEF\t1\tPython Developer\tAG Insurance\t3\tAntwerp\n" +
				"2402DEG  1  Analyst  AG Insurance  12  Brussels\n" +
				"Kind regards\n",
		}
		got := parseAGInsurance(m)
		require.Len(t, got, 2)
		assert.Equal(t, "2402DEF", got[0].Reference)
		assert.Equal(t, "Python Developer", got[0].Title)
		assert.Equal(t, "Antwerp", got[0].Location)
		assert.Equal(t, "Analyst", got[1].Title)
		assert.Equal(t, "12", got[1].RawData["duration_months"])
	})

	t.Run("other mail ignored", func(t *testing.T) {
		assert.Empty(t, parseAGInsurance(mailbox.Message{Body: "2402DEF\t1\tPython Developer"}))
	})
}

func TestMailFeed_ExcludesFailedClassificationAndPersistsRest(t *testing.T) {
	classifier := &fakeClassifier{fail: []string{"Flaky"}}
	d := testDeps()
	d.Classifier = classifier
	d.Mailbox = &fakeMailbox{msgs: []mailbox.Message{
		bnppfMessage("ABC001", "Go Developer"),
		bnppfMessage("ABC002", "Flaky Architect"),
		bnppfMessage("ABC003", "Data Engineer"),
		bnppfMessage("ABC001", "Go Developer"), // resent
	}}

	g, err := bnppfFeed.graph(d)
	require.NoError(t, err)

	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-9", model.SourceBNPPF, nil))

	require.Equal(t, model.StatusSucceeded, out.Status, "err: %v", out.Err)
	assert.Equal(t, []string{StepFetchMail, StepParse, StepClassify, StepSummarize}, out.Path)
	require.Len(t, final.Listings, 2)
	require.Len(t, final.Errors, 1)
	assert.Contains(t, final.Errors[0], "ABC002")
	assert.Equal(t, 3, classifier.callsFor("Flaky Architect"))
	assert.Equal(t, "2026-10-18", final.Listings[0].RawData["received"])

	st := store.NewMemoryStore()
	report := persist.NewPersister(st, discardLogger()).Persist(context.Background(), final.Listings)
	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 0, report.Failed)

	ok, err := st.Exists(context.Background(), model.Key{Source: model.SourceBNPPF, Reference: "ABC002"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMailFeed_NoMailSkipsToSummary(t *testing.T) {
	d := testDeps()
	d.Mailbox = &fakeMailbox{}

	g, err := eliaFeed.graph(d)
	require.NoError(t, err)

	final, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-10", model.SourceElia, nil))

	require.Equal(t, model.StatusSucceeded, out.Status)
	assert.Equal(t, []string{StepFetchMail, StepSummarize}, out.Path)
	assert.Contains(t, Summary(final), "Found 0 elia job(s)")
}

func TestMailFeed_MailboxErrorsAreRetried(t *testing.T) {
	d := testDeps()
	d.Mailbox = &fakeMailbox{err: &model.HTTPError{StatusCode: 503, Err: errors.New("unavailable")}}

	g, err := bnppfFeed.graph(d)
	require.NoError(t, err)

	_, out := workflow.NewExecutor(g, discardLogger()).
		Execute(context.Background(), workflow.NewState("exec-11", model.SourceBNPPF, nil))

	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, StepFetchMail, out.FailedStep())
	assert.Equal(t, 3, out.Attempts())
}

// --- table ---

func TestTable_AllGraphsValidate(t *testing.T) {
	reg := workflow.NewRegistry(Table(testDeps()))
	assert.Empty(t, reg.Errors())

	var names []string
	for _, s := range model.Sources() {
		names = append(names, string(s))
	}
	assert.ElementsMatch(t, names, reg.Names())

	for _, name := range reg.Names() {
		g, err := reg.Graph(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, g.Name())
	}
}

func TestLastSegmentAndAbsoluteURL(t *testing.T) {
	assert.Equal(t, "815", lastSegment("https://x.example/jobs/815/"))
	assert.Equal(t, "https://x.example/jobs/1", absoluteURL("https://x.example/", "/jobs/1"))
	assert.Equal(t, "", absoluteURL("https://x.example/", ""))
}
