// Package static renders portal pages without a browser: pages are fetched
// over HTTP and queried with goquery. Session cookies live in the client's jar,
// so file downloads made through the same client stay authenticated.
package static

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lmsfetch/pkg/content"
	"lmsfetch/pkg/domain"
	"lmsfetch/pkg/httpclient"
)

// ErrNoPage is returned when a page query is made before any navigation
var ErrNoPage = errors.New("no page loaded")

// Renderer holds the most recently loaded page
type Renderer struct {
	client     *httpclient.HTTPClient
	navTimeout time.Duration

	doc      *goquery.Document
	location string
}

// New creates a static renderer that fetches pages through client.
// navTimeout bounds each navigation or form submission; zero means no bound.
func New(client *httpclient.HTTPClient, navTimeout time.Duration) *Renderer {
	return &Renderer{
		client:     client,
		navTimeout: navTimeout,
	}
}

// Navigate loads rawURL and makes it the current page
func (r *Renderer) Navigate(ctx context.Context, rawURL string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log.Printf("StaticRenderer: Navigating to %s", rawURL)
	resp, err := r.client.Get(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	return r.load(resp)
}

// Login fills the form that contains the username field and submits it.
// Every other input of the form is sent with its current value, so hidden
// fields such as login tokens are preserved.
func (r *Renderer) Login(ctx context.Context, form domain.LoginForm) error {
	if r.doc == nil {
		return ErrNoPage
	}

	userField := r.doc.Find(form.UsernameSelector).First()
	if userField.Length() == 0 {
		return fmt.Errorf("username field %q not found on %s", form.UsernameSelector, r.location)
	}
	passField := r.doc.Find(form.PasswordSelector).First()
	if passField.Length() == 0 {
		return fmt.Errorf("password field %q not found on %s", form.PasswordSelector, r.location)
	}

	formSel := userField.Closest("form")
	if formSel.Length() == 0 {
		return fmt.Errorf("username field %q is not inside a form", form.UsernameSelector)
	}

	values := formValues(formSel, form.SubmitSelector)
	userName, _ := userField.Attr("name")
	passName, _ := passField.Attr("name")
	if userName == "" || passName == "" {
		return errors.New("login fields have no name attribute")
	}
	values.Set(userName, form.Username)
	values.Set(passName, form.Password)

	action, err := r.resolve(formSel.AttrOr("action", ""))
	if err != nil {
		return fmt.Errorf("invalid form action: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	log.Printf("StaticRenderer: Submitting login form to %s", action)
	var resp *http.Response
	if strings.EqualFold(formSel.AttrOr("method", "post"), "get") {
		resp, err = r.client.Get(ctx, action+"?"+values.Encode())
	} else {
		resp, err = r.client.PostForm(ctx, action, values)
	}
	if err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	return r.load(resp)
}

// QueryAll returns the outer HTML of every element matching selector on the current page
func (r *Renderer) QueryAll(ctx context.Context, selector string) ([]string, error) {
	if r.doc == nil {
		return nil, ErrNoPage
	}
	return content.OuterHTMLAll(r.doc, selector)
}

// Location returns the URL of the current page after redirects
func (r *Renderer) Location(ctx context.Context) (string, error) {
	if r.doc == nil {
		return "", ErrNoPage
	}
	return r.location, nil
}

// Cookies returns the session cookies for rawURL
func (r *Renderer) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	return r.client.Cookies(rawURL)
}

// Close drops the current page and releases idle connections
func (r *Renderer) Close() error {
	r.doc = nil
	r.client.CloseIdleConnections()
	return nil
}

func (r *Renderer) load(resp *http.Response) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("http error: %s %s status=%d body=%s",
			resp.Request.Method, resp.Request.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	r.doc = doc
	r.location = resp.Request.URL.String()
	return nil
}

func (r *Renderer) resolve(ref string) (string, error) {
	base, err := url.Parse(r.location)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func (r *Renderer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.navTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.navTimeout)
}

// formValues collects the values a browser would submit for form when the
// submit control matching submitSelector is clicked
func formValues(form *goquery.Selection, submitSelector string) url.Values {
	values := url.Values{}

	form.Find("input[name], select[name], textarea[name], button[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}

		switch goquery.NodeName(s) {
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
		case "textarea":
			values.Add(name, s.Text())
		case "button":
			if submitSelector != "" && s.Is(submitSelector) {
				values.Add(name, s.AttrOr("value", ""))
			}
		default:
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); checked {
					values.Add(name, s.AttrOr("value", "on"))
				}
			case "submit", "image", "button", "reset", "file":
				if submitSelector != "" && s.Is(submitSelector) {
					values.Add(name, s.AttrOr("value", ""))
				}
			default:
				values.Add(name, s.AttrOr("value", ""))
			}
		}
	})

	return values
}
