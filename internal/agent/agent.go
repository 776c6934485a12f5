// Package agent provides the browsing session used to drive the bank portal:
// an HTTP client with a cookie jar, redirect following, and responses parsed
// into CSS-queryable documents.
//
// An Agent mutates its cookie state in place on every request and is not safe
// for concurrent use. Independent agents carry independent sessions and may
// run concurrently.
package agent

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultTimeout bounds each HTTP round trip. The portal is an uncontrolled
// external dependency; without a bound a stalled response would hang the run.
const DefaultTimeout = 30 * time.Second

// Agent is a cookie-retaining HTTP session returning parsed pages.
type Agent struct {
	client *http.Client
}

// Option configures an Agent.
type Option func(*Agent)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.client.Timeout = d
	}
}

// WithTransport overrides the underlying transport. Used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Agent) {
		a.client.Transport = rt
	}
}

// New creates an agent with a fresh cookie jar.
func New(opts ...Option) (*Agent, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	a := &Agent{
		client: &http.Client{
			Jar:     jar,
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Page is one fetched and parsed portal page.
type Page struct {
	// URL is the final URL after redirects; form actions resolve against it.
	URL *url.URL
	doc *goquery.Document
}

// Find returns the selection matching a CSS selector.
func (p *Page) Find(selector string) *goquery.Selection {
	return p.doc.Find(selector)
}

// Title returns the trimmed contents of the page's title element.
func (p *Page) Title() string {
	return strings.TrimSpace(p.doc.Find("title").Text())
}

// Get fetches a URL and parses the response body.
func (a *Agent) Get(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	return a.do(req)
}

// SubmitForm locates a form on the page, merges the overrides into the form's
// current field values (hidden state fields survive untouched), and posts it.
// The selector may match the form element itself or an ancestor containing
// exactly the form of interest.
func (a *Agent) SubmitForm(ctx context.Context, page *Page, selector string, overrides url.Values) (*Page, error) {
	form := page.Find(selector).First()
	if form.Length() > 0 && !form.Is("form") {
		form = form.Find("form").First()
	}
	if form.Length() == 0 {
		return nil, fmt.Errorf("form %q not found on %s", selector, page.URL)
	}

	values := harvestFields(form)
	for name, vs := range overrides {
		values.Del(name)
		for _, v := range vs {
			values.Add(name, v)
		}
	}

	action := form.AttrOr("action", "")
	target := page.URL
	if action != "" {
		resolved, err := page.URL.Parse(action)
		if err != nil {
			return nil, fmt.Errorf("invalid form action %q: %w", action, err)
		}
		target = resolved
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(),
		strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build form submission for %s: %w", target, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return a.do(req)
}

// harvestFields collects the form's current field values the way a browser
// would serialize them: all named inputs except unchecked checkboxes/radios
// and button types, plus selects and textareas.
func harvestFields(form *goquery.Selection) url.Values {
	values := url.Values{}

	form.Find("input").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
		}
		values.Add(name, s.AttrOr("value", ""))
	})

	form.Find("select").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		option := s.Find("option[selected]").First()
		if option.Length() == 0 {
			option = s.Find("option").First()
		}
		if option.Length() == 0 {
			return
		}
		values.Add(name, option.AttrOr("value", strings.TrimSpace(option.Text())))
	})

	form.Find("textarea").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		values.Add(name, s.Text())
	})

	return values
}

func (a *Agent) do(req *http.Request) (*Page, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request to %s returned status %s", req.URL, resp.Status)
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", resp.Request.URL, err)
	}

	return &Page{URL: resp.Request.URL, doc: doc}, nil
}

// decodeBody converts the response body to UTF-8 based on the charset
// declared in Content-Type. The portal serves ISO-8859-1; goquery expects
// UTF-8 input.
func decodeBody(resp *http.Response) (io.Reader, error) {
	var body io.Reader = resp.Body

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		return body, nil
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Malformed header; assume the body is already UTF-8.
		return body, nil
	}

	charset, ok := params["charset"]
	if !ok {
		return body, nil
	}
	if name := strings.ToLower(charset); name == "utf-8" || name == "utf8" {
		return body, nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported response charset %q from %s: %w",
			charset, resp.Request.URL, err)
	}

	return transform.NewReader(body, enc.NewDecoder()), nil
}
