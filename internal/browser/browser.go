package browser

import (
	"context"
	"strings"
	"time"
)

// Cookie is a browser cookie captured after login and replayed into later sessions.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 for session cookies
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
}

// Session is one open browser tab. Selectors starting with "/" are XPath,
// everything else is CSS.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	// Exists reports whether sel becomes visible within timeout.
	Exists(ctx context.Context, sel string, timeout time.Duration) (bool, error)
	Fill(ctx context.Context, sel, value string) error
	Click(ctx context.Context, sel string) error
	Text(ctx context.Context, sel string) (string, error)
	Attribute(ctx context.Context, sel, name string) (string, bool, error)
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

// Driver opens browser sessions.
type Driver interface {
	Open(ctx context.Context) (Session, error)
}

// IsXPath reports whether sel should be evaluated as XPath.
func IsXPath(sel string) bool {
	return strings.HasPrefix(sel, "/")
}
