package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/amishk599/jobflow/internal/retry"
)

// Message is one e-mail read from a mailbox.
type Message struct {
	ID         string
	From       string
	Subject    string
	Body       string
	HTML       bool // Body is HTML
	ReceivedAt time.Time
}

// Text returns the body as plain text, one text block per line.
func (m Message) Text() string {
	if !m.HTML {
		return m.Body
	}
	return HTMLToText(m.Body)
}

// Query selects messages. Sender is an exact address; SubjectContains is a
// case-insensitive substring.
type Query struct {
	Sender          string
	SubjectContains string
	Since           time.Time
	Limit           int // 0 means DefaultLimit
}

// DefaultLimit caps the number of messages returned by one search.
const DefaultLimit = 50

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// matches applies the parts of q that a backend could not push down.
func (q Query) matches(m Message) bool {
	if q.Sender != "" && !strings.EqualFold(strings.TrimSpace(m.From), q.Sender) {
		return false
	}
	if q.SubjectContains != "" && !strings.Contains(strings.ToLower(m.Subject), strings.ToLower(q.SubjectContains)) {
		return false
	}
	if !q.Since.IsZero() && !m.ReceivedAt.IsZero() && m.ReceivedAt.Before(q.Since) {
		return false
	}
	return true
}

// Mailbox searches an inbox. Results are newest first.
type Mailbox interface {
	Search(ctx context.Context, q Query) ([]Message, error)
}

// ErrOTPNotFound is returned when no code arrived before the wait ended.
var ErrOTPNotFound = errors.New("one-time code not found")

// Ordered most to least specific.
var otpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:code|otp|pin)[:\s]+(\d{6})`),
	regexp.MustCompile(`(?i)(?:code|otp|pin)[:\s]+(\d{4})`),
	regexp.MustCompile(`(?i)(?:verification|confirm)[:\s]+(\d{6})`),
	regexp.MustCompile(`\b(\d{6})\b`),
	regexp.MustCompile(`\b(\d{8})\b`),
	regexp.MustCompile(`\b(\d{4})\b`),
}

// ExtractOTP returns the first one-time code found in text, or "".
func ExtractOTP(text string) string {
	for _, re := range otpPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// OTPWait bounds how long WaitForOTP polls.
type OTPWait struct {
	Timeout      time.Duration
	PollInterval time.Duration
	// Lookback widens the search window before the wait started, to catch a
	// code that arrived while the login form was being submitted.
	Lookback time.Duration
}

// DefaultOTPWait polls every 5s for up to two minutes.
var DefaultOTPWait = OTPWait{Timeout: 2 * time.Minute, PollInterval: 5 * time.Second, Lookback: 2 * time.Minute}

// WaitForOTP polls mb until a message matching q carries a one-time code.
// Transient search errors are logged and polling continues; non-retryable
// errors end the wait.
func WaitForOTP(ctx context.Context, mb Mailbox, q Query, w OTPWait, logger *slog.Logger) (string, error) {
	if w.Timeout <= 0 {
		w.Timeout = DefaultOTPWait.Timeout
	}
	if w.PollInterval <= 0 {
		w.PollInterval = DefaultOTPWait.PollInterval
	}
	if q.Since.IsZero() {
		q.Since = time.Now().Add(-w.Lookback)
	}

	ctx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	logger.Info("waiting for one-time code", "sender", q.Sender, "timeout", w.Timeout)
	for {
		msgs, err := mb.Search(ctx, q)
		switch {
		case err != nil && ctx.Err() != nil:
			// fall through to the timeout check below
		case err != nil && !retry.IsRetryable(err):
			return "", fmt.Errorf("searching for one-time code: %w", err)
		case err != nil:
			logger.Warn("one-time code search failed", "error", err)
		default:
			for _, m := range msgs {
				if code := ExtractOTP(m.Text()); code != "" {
					logger.Info("one-time code received", "subject", m.Subject)
					return code, nil
				}
			}
			logger.Debug("no one-time code yet", "messages", len(msgs))
		}

		if err := retry.Sleep(ctx, w.PollInterval); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("after %s: %w", w.Timeout, ErrOTPNotFound)
			}
			return "", err
		}
	}
}
