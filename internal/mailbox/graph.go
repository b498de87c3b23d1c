package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/amishk599/jobflow/internal/model"
)

const (
	graphBaseURL = "https://graph.microsoft.com/v1.0"
	graphScope   = "https://graph.microsoft.com/.default"
	graphMaxPage = 10
)

// GraphConfig identifies the app registration and the mailbox to read.
// The app needs the Mail.Read application permission.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	User         string // mailbox owner, e.g. jobs@example.com

	// Overrides for tests.
	BaseURL  string
	TokenURL string
}

type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

type graphPage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// GraphMailbox reads a Microsoft 365 mailbox through the Graph API using the
// client-credentials flow.
type GraphMailbox struct {
	baseURL string
	user    string
	client  *http.Client
	logger  *slog.Logger
}

// Compile-time check.
var _ Mailbox = (*GraphMailbox)(nil)

// NewGraphMailbox creates a GraphMailbox. Tokens are fetched and refreshed
// lazily using ctx, which should outlive the mailbox.
func NewGraphMailbox(ctx context.Context, cfg GraphConfig, logger *slog.Logger) *GraphMailbox {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = graphBaseURL
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{graphScope},
	}
	return &GraphMailbox{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    cfg.User,
		client:  cc.Client(ctx),
		logger:  logger,
	}
}

// Search lists messages newest first. Sender and Since are pushed into the
// OData filter; the subject is matched locally.
func (g *GraphMailbox) Search(ctx context.Context, q Query) ([]Message, error) {
	params := url.Values{}
	var filters []string
	if !q.Since.IsZero() {
		filters = append(filters, "receivedDateTime ge "+q.Since.UTC().Format(time.RFC3339))
	}
	if q.Sender != "" {
		filters = append(filters, fmt.Sprintf("from/emailAddress/address eq '%s'", strings.ReplaceAll(q.Sender, "'", "''")))
	}
	if len(filters) > 0 {
		params.Set("$filter", strings.Join(filters, " and "))
	}
	params.Set("$orderby", "receivedDateTime desc")
	params.Set("$top", strconv.Itoa(q.limit()))
	params.Set("$select", "id,subject,body,from,receivedDateTime")

	next := fmt.Sprintf("%s/users/%s/messages?%s", g.baseURL, url.PathEscape(g.user), params.Encode())

	var out []Message
	for page := 0; next != "" && page < graphMaxPage && len(out) < q.limit(); page++ {
		p, err := g.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, gm := range p.Value {
			m := Message{
				ID:         gm.ID,
				From:       gm.From.EmailAddress.Address,
				Subject:    gm.Subject,
				Body:       gm.Body.Content,
				HTML:       strings.EqualFold(gm.Body.ContentType, "html"),
				ReceivedAt: gm.ReceivedDateTime,
			}
			if q.matches(m) && len(out) < q.limit() {
				out = append(out, m)
			}
		}
		next = p.NextLink
	}

	g.logger.Debug("graph mailbox searched", "sender", q.Sender, "messages", len(out))
	return out, nil
}

func (g *GraphMailbox) fetchPage(ctx context.Context, pageURL string) (graphPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return graphPage{}, fmt.Errorf("graph messages: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		var tokenErr *oauth2.RetrieveError
		if errors.As(err, &tokenErr) && tokenErr.Response != nil {
			return graphPage{}, &model.HTTPError{
				StatusCode: tokenErr.Response.StatusCode,
				Err:        fmt.Errorf("graph token: %w", tokenErr),
			}
		}
		return graphPage{}, fmt.Errorf("graph messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return graphPage{}, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("graph messages: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	var p graphPage
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return graphPage{}, fmt.Errorf("graph messages: decoding response: %w", err)
	}
	return p, nil
}

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
