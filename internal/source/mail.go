package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/jobflow/internal/mailbox"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
	"github.com/amishk599/jobflow/internal/workflow"
)

const defaultDaysBack = 1

// mailFeed describes a source that announces postings by e-mail.
type mailFeed struct {
	source  model.Source
	sender  string
	subject string // case-insensitive substring; empty matches all
	// parse turns one message into postings. Postings without a reference are
	// reported as skipped.
	parse func(m mailbox.Message) []model.Listing
}

// graph wires the feed into
//
//	fetch_mail -> parse -> classify -> summarize
//
// with fetch_mail going straight to summarize when nothing arrived.
func (f mailFeed) graph(d Deps) (*workflow.Graph, error) {
	once := retry.Policy{MaxAttempts: 1}
	return workflow.NewBuilder(string(f.source)).
		Entry(StepFetchMail).
		Step(StepFetchMail, f.fetchStep(d), d.StepPolicy).
		Step(StepParse, f.parseStep(d), once).
		Step(StepClassify, ClassifyStep(d.Classifier, d.Filter, d.ClassifyPolicy, d.Logger), once).
		Step(StepSummarize, summarizeStep, once).
		When(StepFetchMail, "no mail", noMail, StepSummarize).
		Edge(StepFetchMail, StepParse).
		Edge(StepParse, StepClassify).
		Edge(StepClassify, StepSummarize).
		Edge(StepSummarize, workflow.Terminal).
		Build()
}

func noMail(s workflow.State) bool {
	msgs, _ := s.Values[keyMessages].([]mailbox.Message)
	return len(msgs) == 0
}

func (f mailFeed) fetchStep(d Deps) workflow.Action {
	return func(ctx context.Context, s workflow.State) (workflow.State, error) {
		if d.Mailbox == nil {
			return s, model.Permanent(errors.New("no mailbox configured"))
		}
		days := s.Input.Int(workflow.InputDaysBack, defaultDaysBack)
		msgs, err := d.Mailbox.Search(ctx, mailbox.Query{
			Sender:          f.sender,
			SubjectContains: f.subject,
			Since:           time.Now().AddDate(0, 0, -days),
		})
		if err != nil {
			return s, fmt.Errorf("%s mail: %w", f.source, err)
		}
		s.Set(keyMessages, msgs)
		s.Logf("fetched %d job e-mail(s) from the last %d day(s)", len(msgs), days)
		d.Logger.Info("fetched job mail", "source", f.source, "messages", len(msgs), "days_back", days)
		return s, nil
	}
}

func (f mailFeed) parseStep(d Deps) workflow.Action {
	return func(_ context.Context, s workflow.State) (workflow.State, error) {
		msgs, _ := s.Values[keyMessages].([]mailbox.Message)
		seen := make(map[string]bool)
		var added, skipped int
		for _, m := range msgs {
			for _, l := range f.parse(m) {
				if l.Reference == "" {
					skipped++
					s.Logf("skipped posting without reference in %q", m.Subject)
					continue
				}
				if seen[l.Reference] {
					continue
				}
				seen[l.Reference] = true
				l.Source = f.source
				l.RawData = withRaw(l.RawData, "received", m.ReceivedAt.Format(time.DateOnly))
				s.AddCandidates(l)
				added++
			}
		}
		s.Logf("parsed %d posting(s) from %d e-mail(s)", added, len(msgs))
		d.Logger.Info("parsed job mail", "source", f.source, "postings", added, "skipped", skipped)
		return s, nil
	}
}
