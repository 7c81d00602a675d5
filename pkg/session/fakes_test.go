package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lmsfetch/pkg/content"
	"lmsfetch/pkg/domain"
)

// fakeRenderer serves fixed HTML pages keyed by URL
type fakeRenderer struct {
	pages    map[string]string
	password string

	current  string
	html     string
	visited  []string
	loggedIn bool
	closed   int

	navigateErr error
	loginErr    error
	cookies     []*http.Cookie
}

func (r *fakeRenderer) Navigate(ctx context.Context, rawURL string) error {
	r.visited = append(r.visited, rawURL)
	if r.navigateErr != nil {
		return r.navigateErr
	}
	html, ok := r.pages[rawURL]
	if !ok {
		return fmt.Errorf("no page at %s", rawURL)
	}
	r.current = rawURL
	r.html = html
	return nil
}

func (r *fakeRenderer) Login(ctx context.Context, form domain.LoginForm) error {
	if r.loginErr != nil {
		return r.loginErr
	}
	if form.Password == r.password {
		r.loggedIn = true
		r.html = `<html><body><h1>Dashboard</h1></body></html>`
	}
	return nil
}

func (r *fakeRenderer) QueryAll(ctx context.Context, selector string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(r.html))
	if err != nil {
		return nil, err
	}
	return content.OuterHTMLAll(doc, selector)
}

func (r *fakeRenderer) Location(ctx context.Context) (string, error) {
	if r.current == "" {
		return "", errors.New("no page")
	}
	return r.current, nil
}

func (r *fakeRenderer) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	return r.cookies, nil
}

func (r *fakeRenderer) Close() error {
	r.closed++
	return nil
}

// scriptedPrompt answers questions from a fixed list and then reports EOF
type scriptedPrompt struct {
	answers []string
	asked   int
	closed  bool
}

func (p *scriptedPrompt) Ask(ctx context.Context, question string) (string, error) {
	if p.asked >= len(p.answers) {
		return "", io.EOF
	}
	answer := p.answers[p.asked]
	p.asked++
	return answer, nil
}

func (p *scriptedPrompt) Close() error {
	p.closed = true
	return nil
}

type recordingCatalog struct {
	records []*domain.DownloadRecord
	err     error
}

func (c *recordingCatalog) SaveDownload(ctx context.Context, rec *domain.DownloadRecord) error {
	c.records = append(c.records, rec)
	return c.err
}

type cookieJar struct {
	url     string
	cookies []*http.Cookie
}

func (j *cookieJar) SetCookies(rawURL string, cookies []*http.Cookie) error {
	j.url = rawURL
	j.cookies = cookies
	return nil
}
