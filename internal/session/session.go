// Package session implements the authenticated portal session: the login
// state machine with its double-session retry, the closed login failure
// taxonomy, and discovery of the customer's accounts from the post-login page.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rumor-ml/commons.systems/icaporter/internal/agent"
	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
)

// DefaultBaseURL is the production portal root.
const DefaultBaseURL = "https://www.icabanken.se"

// Portal page schema. The markup is an external contract; every selector the
// session layer depends on lives here so a portal change is a one-file edit.
const (
	loginPath         = "/Secure/Login/LoginPw.aspx"
	errorCodeSelector = "#lastErrCode"
	loginFormSelector = ".login-simple"

	// doubleSessionCode is the bank's reserved error code for "customer
	// already has an active session elsewhere". Expected to be transient.
	doubleSessionCode = 4
)

// accountIDPattern extracts the opaque account identifier from statement
// links on the post-login page.
var accountIDPattern = regexp.MustCompile(`AccountId=(\d+)`)

// Credentials identify the customer. Never persisted by this package.
type Credentials struct {
	Personnummer string
	PIN          string
}

// RejectedError is a bank-reported login failure other than the double
// session conflict. Code and Reason come straight from the error page.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("login rejected: error code %d: %s", e.Code, e.Reason)
}

// DoubleSessionError reports the double-session conflict. Exhausted is set
// when the conflict persisted after the single automatic retry.
type DoubleSessionError struct {
	Exhausted bool
}

func (e *DoubleSessionError) Error() string {
	if e.Exhausted {
		return "double session conflict persisted after retry"
	}
	return "double session conflict"
}

// ErrNoAccounts is returned when login appears to succeed but no account
// links can be found. This is deliberately a failure, not an empty directory:
// a customer with zero accounts is indistinguishable from markup the scraper
// no longer understands.
var ErrNoAccounts = errors.New("no accounts found after login")

// Session is one authenticated browsing session. It owns the agent's cookie
// state and is not safe for concurrent use; run independent sessions on
// independent agents.
type Session struct {
	agent   *agent.Agent
	creds   Credentials
	baseURL string

	// retriedDoubleSession transitions false -> true at most once per
	// session; a second double-session conflict is fatal.
	retriedDoubleSession bool
}

// Option configures a Session.
type Option func(*Session)

// WithBaseURL points the session at a different portal root. Used by tests.
func WithBaseURL(u string) Option {
	return func(s *Session) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// New creates a session for the given credentials.
func New(a *agent.Agent, creds Credentials, opts ...Option) *Session {
	s := &Session{
		agent:   a,
		creds:   creds,
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetriedDoubleSession reports whether the one automatic double-session
// retry has been spent.
func (s *Session) RetriedDoubleSession() bool {
	return s.retriedDoubleSession
}

// Login executes the login protocol and returns the discovered accounts.
//
// A double-session conflict restarts the whole sequence exactly once; a
// second conflict surfaces as DoubleSessionError{Exhausted: true}. Any other
// bank-reported error is returned as *RejectedError without retry.
func (s *Session) Login(ctx context.Context) (*Directory, error) {
	for {
		dir, err := s.attempt(ctx)
		if err == nil {
			return dir, nil
		}

		var conflict *DoubleSessionError
		if !errors.As(err, &conflict) {
			return nil, err
		}
		if s.retriedDoubleSession {
			return nil, &DoubleSessionError{Exhausted: true}
		}
		s.retriedDoubleSession = true
	}
}

// attempt runs one pass of the login sequence: fetch the login page, check
// the hidden error field, submit credentials, discover accounts.
func (s *Session) attempt(ctx context.Context) (*Directory, error) {
	page, err := s.agent.Get(ctx, s.loginURL())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch login page: %w", err)
	}

	// The bank can reject before any form submission, based on account or
	// session state alone.
	if err := checkForErrors(page); err != nil {
		return nil, err
	}

	page, err = s.agent.SubmitForm(ctx, page, loginFormSelector, url.Values{
		"Password":  {s.creds.PIN},
		"JSEnabled": {"1"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit login form: %w", err)
	}

	accounts := discoverAccounts(page)
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	return &Directory{accounts: accounts}, nil
}

func (s *Session) loginURL() string {
	return fmt.Sprintf("%s%s?JSEnabled=1&Pnr=%s",
		s.baseURL, loginPath, url.QueryEscape(s.creds.Personnummer))
}

// checkForErrors inspects the hidden error-code field. Absent field or zero
// code means no error; the reserved code means a double-session conflict;
// anything else is a rejection carrying the error page's title as the
// human-readable reason.
func checkForErrors(page *agent.Page) error {
	field := page.Find(errorCodeSelector)
	if field.Length() == 0 {
		return nil
	}

	code, err := strconv.Atoi(strings.TrimSpace(field.AttrOr("value", "")))
	if err != nil || code == 0 {
		return nil
	}

	if code == doubleSessionCode {
		return &DoubleSessionError{}
	}
	return &RejectedError{Code: code, Reason: page.Title()}
}

// discoverAccounts scans the post-login page for statement links. The link
// text is the account's display number; the second cell of the link's table
// row is its display name.
func discoverAccounts(page *agent.Page) []domain.Account {
	var accounts []domain.Account

	page.Find("a[href*='AccountId=']").Each(func(_ int, link *goquery.Selection) {
		href := link.AttrOr("href", "")
		m := accountIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}

		accounts = append(accounts, domain.Account{
			ID:     m[1],
			Number: strings.TrimSpace(link.Text()),
			Name:   strings.TrimSpace(link.Closest("tr").Find("td").Eq(1).Text()),
		})
	})

	return accounts
}

// Directory is the ordered list of accounts discovered by a login. Accounts
// are only valid within the session that produced them.
type Directory struct {
	accounts []domain.Account
}

// NewDirectory creates a directory from already-discovered accounts.
func NewDirectory(accounts []domain.Account) *Directory {
	return &Directory{accounts: append([]domain.Account(nil), accounts...)}
}

// List returns a defensive copy of the accounts in discovery order.
func (d *Directory) List() []domain.Account {
	return append([]domain.Account(nil), d.accounts...)
}

// First returns the first discovered account, the default when the caller
// gives no selector.
func (d *Directory) First() domain.Account {
	return d.accounts[0]
}

// Find matches the selector as a digits-only account number or an exact
// display name; the first matching account wins.
func (d *Directory) Find(selector string) (domain.Account, bool) {
	for _, a := range d.accounts {
		if a.Numbered(selector) || a.Named(selector) {
			return a, true
		}
	}
	return domain.Account{}, false
}
