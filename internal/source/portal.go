package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amishk599/jobflow/internal/browser"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/retry"
	"github.com/amishk599/jobflow/internal/workflow"
)

const (
	defaultMaxPages = 3
	listWait        = 10 * time.Second
	loginWait       = 15 * time.Second
)

// portal describes a web portal that needs an authenticated browser session.
type portal struct {
	source  model.Source
	jobsURL string

	rows    browser.Spec // job list rows on one page
	nextSel string       // enabled "next page" control

	login func(ctx context.Context, sess browser.Session, s *workflow.State) error
	// listing converts one extracted row; false skips the row.
	listing func(row map[string]string) (model.Listing, bool)
	detail  func(ctx context.Context, sess browser.Session, l *model.Listing) error
}

// graph wires the portal into
//
//	login -> fetch_page (loops per page) -> fetch_detail (loops per batch) -> classify -> summarize
func (p portal) graph(d Deps) (*workflow.Graph, error) {
	once := retry.Policy{MaxAttempts: 1}
	return workflow.NewBuilder(string(p.source)).
		Entry(StepLogin).
		Step(StepLogin, p.loginStep(d), d.StepPolicy).
		Step(StepFetchPage, p.fetchPageStep(d), d.StepPolicy).
		Step(StepFetchDetail, p.fetchDetailStep(d), d.StepPolicy).
		Step(StepClassify, ClassifyStep(d.Classifier, d.Filter, d.ClassifyPolicy, d.Logger), once).
		Step(StepSummarize, summarizeStep, once).
		Edge(StepLogin, StepFetchPage).
		When(StepFetchPage, "more pages", morePages, StepFetchPage).
		When(StepFetchPage, "no postings", noCandidates, StepSummarize).
		Edge(StepFetchPage, StepFetchDetail).
		When(StepFetchDetail, "more details", pendingDetails, StepFetchDetail).
		Edge(StepFetchDetail, StepClassify).
		Edge(StepClassify, StepSummarize).
		Edge(StepSummarize, workflow.Terminal).
		Build()
}

func morePages(s workflow.State) bool      { return s.Bool(keyMorePages) }
func noCandidates(s workflow.State) bool   { return len(s.Candidates) == 0 }
func pendingDetails(s workflow.State) bool { return s.Cursor(cursorDetail) < len(s.Candidates) }

// session opens a browser session, restoring the login cookies when present.
func (p portal) session(ctx context.Context, d Deps, s workflow.State, fn func(browser.Session) error) error {
	if d.Driver == nil {
		return model.Permanent(fmt.Errorf("%s: no browser driver configured", p.source))
	}
	sess, err := d.Driver.Open(ctx)
	if err != nil {
		return fmt.Errorf("%s: opening browser: %w", p.source, err)
	}
	defer sess.Close()

	if cookies, ok := s.Values[keyCookies].([]browser.Cookie); ok && len(cookies) > 0 {
		if err := sess.SetCookies(ctx, cookies); err != nil {
			return fmt.Errorf("%s: %w", p.source, err)
		}
	}
	return fn(sess)
}

func (p portal) navigate(ctx context.Context, d Deps, sess browser.Session, url string) error {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx, hostOf(url)); err != nil {
			return err
		}
	}
	return sess.Navigate(ctx, url)
}

func (p portal) loginStep(d Deps) workflow.Action {
	return func(ctx context.Context, s workflow.State) (workflow.State, error) {
		if s.Input.Get(workflow.InputUsername) == "" || s.Input.Get(workflow.InputPassword) == "" {
			return s, model.Permanent(errors.New("missing username or password"))
		}

		var cookies []browser.Cookie
		err := p.session(ctx, d, s, func(sess browser.Session) error {
			if err := p.login(ctx, sess, &s); err != nil {
				return err
			}
			c, err := sess.Cookies(ctx)
			if err != nil {
				return err
			}
			cookies = c
			return nil
		})
		if err != nil {
			return s, fmt.Errorf("%s login: %w", p.source, err)
		}

		s.Set(keyCookies, cookies)
		s.Logf("logged into %s, %d cookie(s) captured", p.source, len(cookies))
		d.Logger.Info("portal login succeeded", "source", p.source)
		return s, nil
	}
}

// fetchPageStep scrapes exactly one result page per invocation. The page
// cursor makes a retried or resumed invocation pick up at the same page.
func (p portal) fetchPageStep(d Deps) workflow.Action {
	return func(ctx context.Context, s workflow.State) (workflow.State, error) {
		page := s.Cursor(cursorPage)
		maxPages := s.Input.Int(workflow.InputMaxPages, defaultMaxPages)

		var (
			rows    []map[string]string
			hasNext bool
		)
		err := p.session(ctx, d, s, func(sess browser.Session) error {
			if err := p.navigate(ctx, d, sess, p.jobsURL); err != nil {
				return err
			}
			found, err := sess.Exists(ctx, p.rows.Container, listWait)
			if err != nil {
				return err
			}
			if !found {
				d.Logger.Warn("no job rows found", "source", p.source, "page", page+1)
				return nil
			}

			// Pagination is client-side; replay the clicks that lead to this page.
			for i := 0; i < page; i++ {
				if err := sess.Click(ctx, p.nextSel); err != nil {
					return fmt.Errorf("advancing to page %d: %w", i+2, err)
				}
				if err := retry.Sleep(ctx, d.PageSettle); err != nil {
					return err
				}
			}

			html, err := sess.HTML(ctx)
			if err != nil {
				return err
			}
			if rows, err = browser.ExtractHTML(html, p.rows); err != nil {
				return err
			}
			hasNext, err = sess.Exists(ctx, p.nextSel, time.Second)
			return err
		})
		if err != nil {
			return s, fmt.Errorf("%s page %d: %w", p.source, page+1, err)
		}

		var added int
		for _, row := range rows {
			l, ok := p.listing(row)
			if !ok {
				continue
			}
			l.Source = p.source
			l.RawData = withRaw(l.RawData, "page", page+1)
			s.AddCandidates(l)
			added++
		}

		s.Advance(cursorPage)
		s.Set(keyMorePages, hasNext && page+1 < maxPages)
		s.Logf("page %d: %d posting(s)", page+1, added)
		d.Logger.Info("fetched result page", "source", p.source, "page", page+1, "postings", added, "has_next", hasNext)
		return s, nil
	}
}

// fetchDetailStep enriches the next batch of candidates from their detail pages.
// A posting whose detail page fails keeps its list-page fields and carries the
// error in RawData; only session failures and cancellation fail the step.
func (p portal) fetchDetailStep(d Deps) workflow.Action {
	return func(ctx context.Context, s workflow.State) (workflow.State, error) {
		start := s.Cursor(cursorDetail)
		end := min(start+d.detailBatch(), len(s.Candidates))
		if start >= end {
			return s, nil
		}

		var missed int
		err := p.session(ctx, d, s, func(sess browser.Session) error {
			for i := start; i < end; i++ {
				c := &s.Candidates[i]
				if c.URL == "" {
					continue
				}
				err := p.navigate(ctx, d, sess, c.URL)
				if err == nil {
					err = p.detail(ctx, sess, c)
				}
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return fmt.Errorf("detail for %s: %w", c.Reference, err)
				}
				missed++
				c.RawData = withRaw(c.RawData, "detail_error", err.Error())
				s.RecordError(fmt.Errorf("detail for %s: %w", c.Reference, err))
				d.Logger.Warn("detail page failed, keeping list fields",
					"source", p.source,
					"reference", c.Reference,
					"error", err,
				)
			}
			return nil
		})
		if err != nil {
			return s, fmt.Errorf("%s: %w", p.source, err)
		}

		for i := start; i < end; i++ {
			s.Advance(cursorDetail)
		}
		d.Logger.Debug("fetched details", "source", p.source, "from", start, "to", end, "missed", missed)
		return s, nil
	}
}

// withRaw returns a copy of raw with key set.
func withRaw(raw map[string]any, key string, v any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, val := range raw {
		out[k] = val
	}
	out[key] = v
	return out
}
