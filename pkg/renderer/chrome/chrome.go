// Package chrome renders portal pages in a real Chrome instance through the
// DevTools protocol, for portals whose pages need JavaScript to build.
package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"lmsfetch/pkg/domain"
	"lmsfetch/pkg/logger"
)

// Options configures the browser
type Options struct {
	Headless   bool
	NavTimeout time.Duration
	// ExecPath overrides Chrome discovery when set.
	ExecPath string
}

// Renderer drives one browser tab
type Renderer struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancelTab   context.CancelFunc
	navTimeout  time.Duration
}

// New starts Chrome and opens a tab. The browser lives until Close.
func New(opts Options) (*Renderer, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabOpts := []chromedp.ContextOption{chromedp.WithLogf(log.Printf)}
	if logger.IsVerbose() {
		tabOpts = append(tabOpts, chromedp.WithDebugf(logger.Debug))
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, tabOpts...)

	// the first Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Renderer{
		ctx:         tabCtx,
		cancelAlloc: cancelAlloc,
		cancelTab:   cancelTab,
		navTimeout:  opts.NavTimeout,
	}, nil
}

// Navigate loads rawURL and waits until the document body exists and the
// page's network has gone idle, so scripts that build the page have finished.
func (r *Renderer) Navigate(ctx context.Context, rawURL string) error {
	runCtx, cancel := r.runContext(ctx, r.navTimeout)
	defer cancel()

	watcher := newIdleWatcher()
	chromedp.ListenTarget(runCtx, watcher.observe)

	log.Printf("ChromeRenderer: Navigating to %s", rawURL)
	var loader cdp.LoaderID
	if err := chromedp.Run(runCtx,
		page.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, id, errorText, _, err := page.Navigate(rawURL).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("page load error %s", errorText)
			}
			loader = id
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}

	// same-document navigations have no loader of their own
	if loader == "" {
		return nil
	}
	if err := watcher.wait(runCtx, loader); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	return nil
}

// Login types the credentials, clicks submit and waits for the resulting navigation
func (r *Renderer) Login(ctx context.Context, form domain.LoginForm) error {
	runCtx, cancel := r.runContext(ctx, r.navTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx,
		chromedp.WaitVisible(form.UsernameSelector, chromedp.ByQuery),
		chromedp.SetValue(form.UsernameSelector, "", chromedp.ByQuery),
		chromedp.SendKeys(form.UsernameSelector, form.Username, chromedp.ByQuery),
		chromedp.SetValue(form.PasswordSelector, "", chromedp.ByQuery),
		chromedp.SendKeys(form.PasswordSelector, form.Password, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to fill login form: %w", err)
	}

	log.Printf("ChromeRenderer: Submitting login form")
	resp, err := chromedp.RunResponse(runCtx, chromedp.Click(form.SubmitSelector, chromedp.ByQuery))
	if err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	if resp != nil && resp.Status >= 400 {
		return fmt.Errorf("login page returned status %d", resp.Status)
	}
	return nil
}

// QueryAll returns the outer HTML of every element matching selector, in document order
func (r *Renderer) QueryAll(ctx context.Context, selector string) ([]string, error) {
	expr, err := queryExpression(selector)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := r.runContext(ctx, r.navTimeout)
	defer cancel()

	var fragments []string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, &fragments)); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}
	return fragments, nil
}

// Location returns the tab's current URL
func (r *Renderer) Location(ctx context.Context) (string, error) {
	runCtx, cancel := r.runContext(ctx, r.navTimeout)
	defer cancel()

	var loc string
	if err := chromedp.Run(runCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// Cookies returns the browser cookies that apply to rawURL
func (r *Renderer) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	runCtx, cancel := r.runContext(ctx, r.navTimeout)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return toHTTPCookies(cookies), nil
}

// Close shuts down the tab and the browser process
func (r *Renderer) Close() error {
	r.cancelTab()
	r.cancelAlloc()
	return nil
}

// runContext derives a context from the tab that also ends with ctx
func (r *Renderer) runContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(r.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		return runCtx, func() {
			cancelTimeout()
			stop()
			cancel()
		}
	}
	return runCtx, func() {
		stop()
		cancel()
	}
}

// queryExpression builds the script that serializes matching elements
func queryExpression(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("invalid selector: %w", err)
	}
	return fmt.Sprintf("Array.from(document.querySelectorAll(%s)).map(e => e.outerHTML)", quoted), nil
}

func toHTTPCookies(cookies []*network.Cookie) []*http.Cookie {
	result := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9))
		}
		result = append(result, hc)
	}
	return result
}
