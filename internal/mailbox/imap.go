package mailbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Folder   string // defaults to INBOX
}

// IMAPMailbox reads messages over IMAP. Each Search opens its own connection.
type IMAPMailbox struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

// Compile-time check.
var _ Mailbox = (*IMAPMailbox)(nil)

// NewIMAPMailbox creates an IMAPMailbox.
func NewIMAPMailbox(cfg IMAPConfig, logger *slog.Logger) *IMAPMailbox {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &IMAPMailbox{cfg: cfg, logger: logger}
}

func (m *IMAPMailbox) dial() (*client.Client, error) {
	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	if m.cfg.UseTLS {
		return client.DialTLS(addr, nil)
	}
	return client.Dial(addr)
}

// Search runs a server-side search on sender, subject and date and fetches
// the newest matches.
func (m *IMAPMailbox) Search(ctx context.Context, q Query) ([]Message, error) {
	c, err := m.dial()
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", m.cfg.Host, err)
	}
	// The client has no context support; drop the connection on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mbox, err := c.Select(m.cfg.Folder, true)
	if err != nil {
		return nil, fmt.Errorf("imap select %s: %w", m.cfg.Folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}
	if q.Sender != "" {
		criteria.Header.Add("From", q.Sender)
	}
	if q.SubjectContains != "" {
		criteria.Header.Add("Subject", q.SubjectContains)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	// Newest first, bounded by the query limit.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > q.limit() {
		uids = uids[:q.limit()]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var out []Message
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		parsed, err := parseIMAPMessage(msg, section)
		if err != nil {
			m.logger.Warn("skipping unreadable message", "uid", msg.Uid, "error", err)
			continue
		}
		if q.matches(parsed) {
			out = append(out, parsed)
		}
	}
	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	m.logger.Debug("imap mailbox searched", "sender", q.Sender, "messages", len(out))
	return out, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (Message, error) {
	out := Message{
		ID:         strconv.FormatUint(uint64(msg.Uid), 10),
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.InternalDate,
	}
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = msg.Envelope.Date
	}
	if len(msg.Envelope.From) > 0 {
		out.From = msg.Envelope.From[0].Address()
	}

	r := msg.GetBody(section)
	if r == nil {
		return out, fmt.Errorf("no body section")
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return out, fmt.Errorf("creating mail reader: %w", err)
	}

	var plain, htmlBody string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, fmt.Errorf("reading part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return out, fmt.Errorf("reading %s part: %w", ct, err)
		}
		switch {
		case strings.HasPrefix(ct, "text/plain") && plain == "":
			plain = string(b)
		case strings.HasPrefix(ct, "text/html") && htmlBody == "":
			htmlBody = string(b)
		}
	}

	// HTML keeps table structure that some parsers rely on.
	if htmlBody != "" {
		out.Body, out.HTML = htmlBody, true
	} else {
		out.Body = plain
	}
	return out, nil
}
