// Package statement fetches and parses per-account statement tables into
// typed transactions.
package statement

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/icaporter/internal/agent"
	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
)

// Statement page schema. The markup and request parameters are an external
// contract; keep every selector and parameter name here.
const (
	statementPath = "/Secure/MyEconomy/Accounts/AccountStatement.aspx"
	tableSelector = "table.account-details tbody"

	rowDateFormat = "2006-01-02"

	// directDebitMarker flags a row as an automatic standing debit
	// (autogiro) in the raw amount text.
	directDebitMarker = "*"
)

// StatementUnavailableError reports that the statement table was absent from
// the response: the session may have expired mid-run or the account
// identifier is not valid. Statement fetches are never retried; recovery is
// the session layer's concern and only for authentication.
type StatementUnavailableError struct {
	AccountID string
}

func (e *StatementUnavailableError) Error() string {
	return fmt.Sprintf("statement unavailable for account %s (expired session or invalid account id)", e.AccountID)
}

// Fetcher retrieves statements over an authenticated agent. Not safe for
// concurrent use; it shares the agent's session state.
type Fetcher struct {
	agent   *agent.Agent
	baseURL string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL points the fetcher at a different portal root. Used by tests.
func WithBaseURL(u string) Option {
	return func(f *Fetcher) {
		f.baseURL = strings.TrimRight(u, "/")
	}
}

// NewFetcher creates a statement fetcher on an already-authenticated agent.
func NewFetcher(a *agent.Agent, opts ...Option) *Fetcher {
	f := &Fetcher{
		agent:   a,
		baseURL: "https://www.icabanken.se",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the account's transactions for the period, in the order
// the bank returns them (ascending by date via the sort directive).
func (f *Fetcher) Fetch(ctx context.Context, account domain.Account, period domain.Period) ([]domain.Transaction, error) {
	page, err := f.agent.Get(ctx, f.statementURL(account, period))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch statement for account %s: %w", account.ID, err)
	}

	table := page.Find(tableSelector)
	if table.Length() == 0 {
		return nil, &StatementUnavailableError{AccountID: account.ID}
	}

	var (
		transactions []domain.Transaction
		rowErr       error
	)
	table.Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		txn, err := parseRow(row)
		if err != nil {
			rowErr = fmt.Errorf("statement row %d: %w", i+1, err)
			return false
		}
		transactions = append(transactions, txn)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	return transactions, nil
}

// statementURL builds the statement request in the bank's own encoding:
// split year-month and day components for both range endpoints, ascending
// date sort, first result page.
func (f *Fetcher) statementURL(account domain.Account, period domain.Period) string {
	q := url.Values{
		"AccountId":        {account.ID},
		"SortKey":          {"date_Asc"},
		"lTrnPage":         {"0"},
		"ABselFromRangeDt": {period.Start().Format("200601")},
		"FromDay":          {period.Start().Format("02")},
		"ABselRangeDt":     {period.End().Format("200601")},
		"ToDay":            {period.End().Format("02")},
	}
	return f.baseURL + statementPath + "?" + q.Encode()
}

// parseRow turns one statement table row into a transaction. Rows carry five
// cells: date, e-giro reference, details, amount, running balance. The
// reference and balance cells are read and discarded.
func parseRow(row *goquery.Selection) (domain.Transaction, error) {
	cells := row.Find("td")
	if cells.Length() < 5 {
		return domain.Transaction{}, fmt.Errorf("expected 5 cells, got %d", cells.Length())
	}

	date, err := time.Parse(rowDateFormat, strings.TrimSpace(cells.Eq(0).Text()))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("invalid date %q: %w", cells.Eq(0).Text(), err)
	}

	rawAmount := cells.Eq(3).Text()
	amount, directDebit, err := ParseAmount(rawAmount)
	if err != nil {
		return domain.Transaction{}, err
	}

	return domain.Transaction{
		Date:        date,
		Amount:      amount,
		Details:     strings.TrimSpace(cells.Eq(2).Text()),
		DirectDebit: directDebit,
	}, nil
}

// ParseAmount parses the bank's locale-formatted amount text, e.g.
// "-1.234,50 kr*": thousands separators and currency noise are stripped, the
// decimal comma becomes a decimal point, and the direct-debit marker is
// detected in the raw text before any stripping.
func ParseAmount(raw string) (decimal.Decimal, bool, error) {
	directDebit := strings.Contains(raw, directDebitMarker)

	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}

	// First comma is the decimal point; any further commas would be noise.
	cleaned := strings.Replace(b.String(), ",", ".", 1)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Decimal{}, false, fmt.Errorf("unparseable amount %q", raw)
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("unparseable amount %q: %w", raw, err)
	}

	return amount, directDebit, nil
}
