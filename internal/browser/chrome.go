package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeConfig controls how Chrome is launched.
type ChromeConfig struct {
	Headless      bool
	NoSandbox     bool
	UserAgent     string
	ExecPath      string
	ActionTimeout time.Duration // per browser action, defaults to 30s
}

// ChromeDriver launches a fresh headless Chrome per session.
type ChromeDriver struct {
	cfg    ChromeConfig
	logger *slog.Logger
}

// Compile-time check.
var _ Driver = (*ChromeDriver)(nil)

// NewChromeDriver creates a ChromeDriver.
func NewChromeDriver(cfg ChromeConfig, logger *slog.Logger) *ChromeDriver {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	return &ChromeDriver{cfg: cfg, logger: logger}
}

func (d *ChromeDriver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", d.cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	if d.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	if d.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.cfg.ExecPath))
	}
	return opts
}

// Open starts a browser bound to ctx. The browser is torn down when ctx ends
// or Close is called, whichever comes first.
func (d *ChromeDriver) Open(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		d.logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
	}))

	// Start the browser eagerly so launch failures surface here.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	return &chromeSession{
		ctx:     tabCtx,
		cancel:  func() { tabCancel(); allocCancel() },
		timeout: d.cfg.ActionTimeout,
		logger:  d.logger,
	}, nil
}

type chromeSession struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
}

func by(sel string) chromedp.QueryOption {
	if IsXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// run executes actions on the tab, bounded by both the caller's ctx and timeout.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = s.timeout
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("navigating", "url", url)
	if err := s.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(sel, by(sel))); err != nil {
		return fmt.Errorf("waiting for %s: %w", sel, err)
	}
	return nil
}

func (s *chromeSession) Exists(ctx context.Context, sel string, timeout time.Duration) (bool, error) {
	err := s.run(ctx, timeout, chromedp.WaitVisible(sel, by(sel)))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, fmt.Errorf("checking %s: %w", sel, err)
	}
}

func (s *chromeSession) Fill(ctx context.Context, sel, value string) error {
	err := s.run(ctx, 0,
		chromedp.WaitVisible(sel, by(sel)),
		chromedp.Clear(sel, by(sel)),
		chromedp.SendKeys(sel, value, by(sel)),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", sel, err)
	}
	return nil
}

func (s *chromeSession) Click(ctx context.Context, sel string) error {
	err := s.run(ctx, 0,
		chromedp.WaitVisible(sel, by(sel)),
		chromedp.Click(sel, by(sel)),
	)
	if err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

func (s *chromeSession) Text(ctx context.Context, sel string) (string, error) {
	var text string
	if err := s.run(ctx, 0, chromedp.Text(sel, &text, by(sel))); err != nil {
		return "", fmt.Errorf("text %s: %w", sel, err)
	}
	return strings.TrimSpace(text), nil
}

func (s *chromeSession) Attribute(ctx context.Context, sel, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	if err := s.run(ctx, 0, chromedp.AttributeValue(sel, name, &value, &ok, by(sel))); err != nil {
		return "", false, fmt.Errorf("attribute %s[%s]: %w", sel, name, err)
	}
	return value, ok, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading page html: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Cookies(ctx context.Context) ([]Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		raw = cookies
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}

	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (s *chromeSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	err := s.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				sec := int64(c.Expires)
				exp := cdp.TimeSinceEpoch(time.Unix(sec, 0))
				p = p.WithExpires(&exp)
			}
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("restoring cookies: %w", err)
	}
	s.logger.Debug("cookies restored", "count", len(cookies))
	return nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}
