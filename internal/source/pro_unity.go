package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/amishk599/jobflow/internal/browser"
	"github.com/amishk599/jobflow/internal/mailbox"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/workflow"
)

const (
	puBaseURL  = "https://platform.pro-unity.com"
	puLoginURL = "https://platform.pro-unity.com/login"
	puJobsURL  = "https://platform.pro-unity.com/Freelancer/job-posts"

	puEmail    = "input[placeholder='Your email...']"
	puContinue = "//button[contains(@class,'pu-button') and contains(., 'Continue')]"
	puPassword = "input[placeholder='Your password...']"
	puSignIn   = "//button[contains(@class,'pu-button') and contains(., 'Sign in')]"
	puOTPInput = "input.digit-input"
	puVerify   = "//button[contains(@class,'pu-button') and contains(., 'Verify')]"
	puLoggedIn = ".item-menu"
	puConsent  = "#onetrust-accept-btn-handler"

	puDetail     = "app-ta-job-post-details"
	puDetailBody = ".accordion-body"
	puClient     = "div.job-post-details div:nth-child(2)"

	puLinkPrefix = "job-post-name-link-"

	puOTPSender  = "info@pro-unity.com"
	puOTPSubject = "ProUnity account security code"
)

func proUnity(d Deps) portal {
	return portal{
		source:  model.SourceProUnity,
		jobsURL: puJobsURL,
		rows: browser.Spec{
			Container: ".job-item",
			Fields: map[string]browser.Field{
				"title": {Selector: "span.color-text-link"},
				"cy":    {Selector: "span.color-text-link", Attr: "data-cy"},
				"href":  {Selector: "a", Attr: "href"},
			},
		},
		nextSel: "//pu-pagination//*[contains(@class,'page-box') and not(contains(@class,'active')) and normalize-space(.)='>']",
		login: func(ctx context.Context, sess browser.Session, s *workflow.State) error {
			return puLogin(ctx, d, sess, s)
		},
		listing: puListing,
		detail:  puDetailPage,
	}
}

// puLogin walks the e-mail, password and one-time-code screens. The code is
// read from the configured mailbox.
func puLogin(ctx context.Context, d Deps, sess browser.Session, s *workflow.State) error {
	if d.Mailbox == nil {
		return model.Permanent(errors.New("a mailbox is required to receive the one-time code"))
	}

	if err := sess.Navigate(ctx, puLoginURL); err != nil {
		return err
	}
	// Cookie banner is optional.
	if ok, err := sess.Exists(ctx, puConsent, 3*time.Second); err != nil {
		return err
	} else if ok {
		if err := sess.Click(ctx, puConsent); err != nil {
			d.Logger.Debug("cookie banner click failed", "error", err)
		}
	}

	if err := sess.Fill(ctx, puEmail, s.Input.Get(workflow.InputUsername)); err != nil {
		return err
	}
	if err := sess.Click(ctx, puContinue); err != nil {
		return err
	}
	if err := sess.Fill(ctx, puPassword, s.Input.Get(workflow.InputPassword)); err != nil {
		return err
	}

	// Only codes sent after this point belong to this login.
	since := time.Now().Add(-30 * time.Second)
	if err := sess.Click(ctx, puSignIn); err != nil {
		return err
	}
	if err := sess.WaitVisible(ctx, puOTPInput, loginWait); err != nil {
		return fmt.Errorf("one-time code prompt: %w", err)
	}

	code, err := mailbox.WaitForOTP(ctx, d.Mailbox, mailbox.Query{
		Sender:          puOTPSender,
		SubjectContains: puOTPSubject,
		Since:           since,
	}, d.OTPWait, d.Logger)
	if err != nil {
		return err
	}
	if err := puEnterCode(ctx, sess, code); err != nil {
		return err
	}
	if err := sess.Click(ctx, puVerify); err != nil {
		return err
	}
	if err := sess.WaitVisible(ctx, puLoggedIn, loginWait); err != nil {
		return err
	}
	s.Logf("one-time code accepted")
	return nil
}

// puEnterCode fills either a single code input or one input per digit.
func puEnterCode(ctx context.Context, sess browser.Session, code string) error {
	html, err := sess.HTML(ctx)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parsing code form: %w", err)
	}
	boxes := doc.Find(puOTPInput).Length()
	if boxes <= 1 || boxes != len(code) {
		return sess.Fill(ctx, puOTPInput, code)
	}
	for i, digit := range code {
		sel := fmt.Sprintf("(//input[contains(@class,'digit-input')])[%d]", i+1)
		if err := sess.Fill(ctx, sel, string(digit)); err != nil {
			return err
		}
	}
	return nil
}

func puListing(row map[string]string) (model.Listing, bool) {
	if row["title"] == "" {
		return model.Listing{}, false
	}
	var ref, u string
	if id, ok := strings.CutPrefix(row["cy"], puLinkPrefix); ok && id != "" {
		ref = id
		u = puBaseURL + "/Freelancer/job-posts/" + id
	} else if row["href"] != "" {
		u = absoluteURL(puBaseURL+"/", row["href"])
		ref = lastSegment(u)
	}
	if ref == "" {
		return model.Listing{}, false
	}
	return model.Listing{Reference: ref, Title: row["title"], URL: u}, true
}

func puDetailPage(ctx context.Context, sess browser.Session, l *model.Listing) error {
	if err := sess.WaitVisible(ctx, puDetail, listWait); err != nil {
		return err
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return err
	}
	desc, err := browser.ExtractText(html, puDetail+" "+puDetailBody)
	if err != nil {
		return err
	}
	if desc == "" {
		if desc, err = browser.ExtractText(html, puDetail); err != nil {
			return err
		}
	}
	client, err := browser.ExtractText(html, puClient)
	if err != nil {
		return err
	}
	if client != "" {
		l.Client = strings.SplitN(client, "\n", 2)[0]
	}
	l.RawData = withRaw(l.RawData, "description", desc)
	return nil
}
