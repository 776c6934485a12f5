// Package domain holds the core value types produced by a scrape run:
// accounts discovered after login, parsed transactions, and the export
// document written to disk.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateFormat is the ISO calendar-date layout used everywhere dates cross a
// serialization boundary (export files, statement pages).
const dateFormat = "2006-01-02"

// Transaction is a single statement row as parsed from the bank.
// Immutable value record; the sign of Amount is the sole direction signal
// (negative = money leaving the account).
type Transaction struct {
	Date    time.Time
	Amount  decimal.Decimal
	Details string
	// DirectDebit is true when the bank marks the row as an automatic
	// standing debit (autogiro) via a marker in the raw amount text.
	DirectDebit bool
}

// Outgoing reports whether money left the account.
func (t Transaction) Outgoing() bool {
	return t.Amount.IsNegative()
}

// transactionJSON is the wire shape of a transaction in export files.
// Amount is emitted as a bare JSON number, not a quoted decimal string.
type transactionJSON struct {
	Date        string      `json:"date"`
	Amount      json.Number `json:"amount"`
	Details     string      `json:"details"`
	DirectDebit bool        `json:"direct_debit"`
}

// MarshalJSON implements custom JSON marshaling for Transaction
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(&transactionJSON{
		Date:        t.Date.Format(dateFormat),
		Amount:      json.Number(t.Amount.String()),
		Details:     t.Details,
		DirectDebit: t.DirectDebit,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Transaction
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var aux transactionJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	date, err := time.Parse(dateFormat, aux.Date)
	if err != nil {
		return fmt.Errorf("invalid transaction date %q: %w", aux.Date, err)
	}

	amount, err := decimal.NewFromString(aux.Amount.String())
	if err != nil {
		return fmt.Errorf("invalid transaction amount %q: %w", aux.Amount, err)
	}

	t.Date = date
	t.Amount = amount
	t.Details = aux.Details
	t.DirectDebit = aux.DirectDebit
	return nil
}

// Account is one account discovered on the post-login page. ID is the opaque
// identifier used to build statement requests and is only valid within the
// session that discovered it. Number and Name are display values.
type Account struct {
	ID     string
	Number string
	Name   string
}

// Numbered reports whether the query matches this account's number when both
// are reduced to digits only. A query with no digits never matches.
func (a Account) Numbered(query string) bool {
	q := digitsOnly(query)
	if q == "" {
		return false
	}
	return digitsOnly(a.Number) == q
}

// Named reports whether the query exactly matches this account's display name.
func (a Account) Named(query string) bool {
	return a.Name == query
}

// String returns the display form, e.g. "1234 56 789 (ICA KONTO)".
func (a Account) String() string {
	return fmt.Sprintf("%s (%s)", a.Number, a.Name)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Period is an inclusive calendar-date range for a statement request.
type Period struct {
	start time.Time
	end   time.Time
}

// NewPeriod creates a validated period. A single-day period (start == end)
// is allowed; the range is inclusive at both ends.
func NewPeriod(start, end time.Time) (Period, error) {
	if start.IsZero() {
		return Period{}, fmt.Errorf("start date cannot be zero")
	}
	if end.IsZero() {
		return Period{}, fmt.Errorf("end date cannot be zero")
	}
	if end.Before(start) {
		return Period{}, fmt.Errorf("start date %s is after end date %s",
			start.Format(dateFormat), end.Format(dateFormat))
	}

	return Period{start: start, end: end}, nil
}

// Start returns the first day of the period
func (p Period) Start() time.Time { return p.start }

// End returns the last day of the period
func (p Period) End() time.Time { return p.end }

// Contains returns true if the given time falls within the period (inclusive)
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.start) && !t.After(p.end)
}

// ExportAccount is the account header of an export document. Only display
// values are persisted; the session-scoped identifier never leaves the run.
type ExportAccount struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// Export is the root document written to disk for one run: one account, one
// date range, and the outgoing transactions within it.
type Export struct {
	Account      ExportAccount
	From         time.Time
	To           time.Time
	Transactions []Transaction
}

// NewExport builds an export document for the given account and period.
// Only outgoing transactions (negative amount) are included; order is
// preserved.
func NewExport(account Account, period Period, transactions []Transaction) *Export {
	outgoing := make([]Transaction, 0, len(transactions))
	for _, t := range transactions {
		if t.Outgoing() {
			outgoing = append(outgoing, t)
		}
	}

	return &Export{
		Account:      ExportAccount{Number: account.Number, Name: account.Name},
		From:         period.Start(),
		To:           period.End(),
		Transactions: outgoing,
	}
}

// exportJSON is the wire shape of the export document.
type exportJSON struct {
	Account      ExportAccount `json:"account"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Transactions []Transaction `json:"transactions"`
}

// MarshalJSON implements custom JSON marshaling for Export
func (e *Export) MarshalJSON() ([]byte, error) {
	txns := e.Transactions
	if txns == nil {
		txns = []Transaction{}
	}
	return json.Marshal(&exportJSON{
		Account:      e.Account,
		From:         e.From.Format(dateFormat),
		To:           e.To.Format(dateFormat),
		Transactions: txns,
	})
}

// UnmarshalJSON implements custom JSON unmarshaling for Export
func (e *Export) UnmarshalJSON(data []byte) error {
	var aux exportJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	from, err := time.Parse(dateFormat, aux.From)
	if err != nil {
		return fmt.Errorf("invalid export start date %q: %w", aux.From, err)
	}

	to, err := time.Parse(dateFormat, aux.To)
	if err != nil {
		return fmt.Errorf("invalid export end date %q: %w", aux.To, err)
	}

	e.Account = aux.Account
	e.From = from
	e.To = to
	e.Transactions = aux.Transactions
	return nil
}
