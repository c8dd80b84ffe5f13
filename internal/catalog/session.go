package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coursegrab/internal/common/config"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

const loginSettle = 3 * time.Second

// Authenticator refreshes the catalog session when discovery suggests it
// expired. Session is the browser-backed implementation.
type Authenticator interface {
	Login(ctx context.Context, loginURL string) error
}

// Session holds the authenticated catalog cookies for one process. It is
// refreshed by Login when discovery signals a possible expiry.
type Session struct {
	cfg *config.CatalogConfig
	log *logrus.Logger

	mu      sync.Mutex
	cookies []*network.Cookie
}

// NewSession creates an unauthenticated session.
func NewSession(cfg *config.CatalogConfig, log *logrus.Logger) *Session {
	return &Session{cfg: cfg, log: log}
}

// Login signs in with the configured credentials and captures the session
// cookies for later Apply calls.
func (s *Session) Login(ctx context.Context, loginURL string) error {
	if s.cfg.Email == "" || s.cfg.Password == "" {
		return fmt.Errorf("catalog credentials are not configured")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(s.cfg.UserAgent),
		chromedp.Flag("headless", s.cfg.Headless),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.log.Printf))
	defer browserCancel()

	var cookies []*network.Cookie
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(`input[type="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="email"]`, s.cfg.Email, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"]`, s.cfg.Password, chromedp.ByQuery),
		chromedp.Click(`button[type="submit"]`, chromedp.ByQuery),
		chromedp.Sleep(loginSettle),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()

	s.log.WithField("cookies", len(cookies)).Info("Catalog session established")
	return nil
}

// Apply installs the captured session cookies into a browser context.
func (s *Session) Apply(browserCtx context.Context) error {
	s.mu.Lock()
	cookies := s.cookies
	s.mu.Unlock()

	if len(cookies) == 0 {
		return nil // anonymous browsing still works for public courses
	}

	return chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				WithExpires(&expires).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}
