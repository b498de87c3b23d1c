package source

import (
	"context"
	"strings"

	"github.com/amishk599/jobflow/internal/browser"
	"github.com/amishk599/jobflow/internal/model"
	"github.com/amishk599/jobflow/internal/workflow"
)

const (
	ceBaseURL  = "https://app.connecting-expertise.com/"
	ceJobsURL  = "https://app.connecting-expertise.com/supplier/supplierrequest"
	ceUser     = "#username"
	cePassword = "#password"
	ceSubmit   = "#kc-login"
	ceLoggedIn = "button.menu-user"

	ceDetail      = "ce-detail-supplier-request"
	ceDescription = "ce-detail-description-supplier-request"
	ceSkills      = "ce-list-detail-supplier-skill"
)

func connectingExpertise() portal {
	return portal{
		source:  model.SourceConnectingExpertise,
		jobsURL: ceJobsURL,
		rows: browser.Spec{
			Container: "tr.mat-mdc-row",
			Fields: map[string]browser.Field{
				"title":  {Selector: "td.cdk-column-title"},
				"ref":    {Selector: "td.cdk-column-reference"},
				"link":   {Selector: "td.cdk-column-reference a", Attr: "href"},
				"client": {Selector: "td.cdk-column-customer"},
				"date":   {Selector: "td.cdk-column-createdAt"},
			},
		},
		nextSel: "button.mat-mdc-paginator-navigation-next:not([disabled])",
		login:   ceLogin,
		listing: ceListing,
		detail:  ceDetailPage,
	}
}

// ceLogin signs in through the Keycloak form the portal redirects to.
func ceLogin(ctx context.Context, sess browser.Session, s *workflow.State) error {
	if err := sess.Navigate(ctx, ceBaseURL); err != nil {
		return err
	}
	if err := sess.WaitVisible(ctx, ceUser, listWait); err != nil {
		return err
	}
	if err := sess.Fill(ctx, ceUser, s.Input.Get(workflow.InputUsername)); err != nil {
		return err
	}
	if err := sess.Fill(ctx, cePassword, s.Input.Get(workflow.InputPassword)); err != nil {
		return err
	}
	if err := sess.Click(ctx, ceSubmit); err != nil {
		return err
	}
	return sess.WaitVisible(ctx, ceLoggedIn, loginWait)
}

func ceListing(row map[string]string) (model.Listing, bool) {
	if row["title"] == "" || row["link"] == "" {
		return model.Listing{}, false
	}
	u := absoluteURL(ceBaseURL, row["link"])
	ref := strings.TrimSpace(row["ref"])
	if ref == "" {
		ref = lastSegment(u)
	}
	return model.Listing{
		Reference: ref,
		Title:     row["title"],
		Client:    row["client"],
		URL:       u,
		RawData:   map[string]any{"posted": row["date"]},
	}, true
}

func ceDetailPage(ctx context.Context, sess browser.Session, l *model.Listing) error {
	if err := sess.WaitVisible(ctx, ceDetail, listWait); err != nil {
		return err
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return err
	}
	desc, err := browser.ExtractText(html, ceDescription)
	if err != nil {
		return err
	}
	skills, err := browser.ExtractText(html, ceSkills)
	if err != nil {
		return err
	}
	l.Skills = strings.ReplaceAll(skills, "\n", ", ")
	l.RawData = withRaw(l.RawData, "description", desc)
	return nil
}
