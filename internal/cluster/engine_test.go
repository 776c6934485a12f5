package cluster

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
)

func txn(details, amount string) domain.Transaction {
	return domain.Transaction{
		Date:    time.Date(2010, time.January, 5, 0, 0, 0, 0, time.UTC),
		Amount:  decimal.RequireFromString(amount),
		Details: details,
	}
}

func TestNewEngine_ValidRules(t *testing.T) {
	clustersYAML := `
default_label: Misc
clusters:
  - label: Groceries
    pattern: '\bICA\b'
  - label: Music
    pattern: '(?i)spotify'
`
	engine, err := NewEngine([]byte(clustersYAML))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	if len(engine.rules) != 2 {
		t.Errorf("NewEngine() rules count = %d, want 2", len(engine.rules))
	}
	if engine.defaultLabel != "Misc" {
		t.Errorf("defaultLabel = %s, want Misc", engine.defaultLabel)
	}
}

func TestNewEngine_EmptyLabel(t *testing.T) {
	clustersYAML := `
clusters:
  - label: ""
    pattern: 'ICA'
`
	if _, err := NewEngine([]byte(clustersYAML)); err == nil {
		t.Error("NewEngine() expected error for empty label")
	}
}

func TestNewEngine_InvalidPattern(t *testing.T) {
	clustersYAML := `
clusters:
  - label: Broken
    pattern: '(unclosed'
`
	if _, err := NewEngine([]byte(clustersYAML)); err == nil {
		t.Error("NewEngine() expected error for invalid pattern")
	}
}

func TestLoadEmbedded(t *testing.T) {
	engine, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}

	tests := []struct {
		details string
		want    string
	}{
		{"ICA SUPERMARKET", "Groceries"},
		{"Coop Forum", "Groceries"},
		{"RESTAURANG DALASTUGAN", "Restaurant"},
		{"I-TUNES MUSIC STORE", "iTunes"},
		{"PARKING GARAGE", "Other"},
	}

	for _, tt := range tests {
		if got := engine.Label(tt.details); got != tt.want {
			t.Errorf("Label(%q) = %s, want %s", tt.details, got, tt.want)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clusters.yaml")
	content := []byte(`
clusters:
  - label: Transport
    pattern: '(?i)\bSL\b'
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	engine, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if got := engine.Label("SL ACCESS"); got != "Transport" {
		t.Errorf("Label() = %s, want Transport", got)
	}
	if got := engine.Label("ICA NARA"); got != DefaultLabel {
		t.Errorf("Label() = %s, want default %s", got, DefaultLabel)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFromFile() expected error for missing file")
	}
}

func TestClusterByPattern_EveryTransactionInExactlyOneGroup(t *testing.T) {
	engine, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded() error = %v", err)
	}

	transactions := []domain.Transaction{
		txn("ICA SUPERMARKET", "-234.50"),
		txn("RESTAURANG DALASTUGAN", "-450.00"),
		txn("ICA NARA", "-120.00"),
		txn("PARKING GARAGE", "-40.00"),
	}

	groups := engine.ClusterByPattern(transactions)

	total := 0
	for _, members := range groups {
		total += len(members)
	}
	if total != len(transactions) {
		t.Errorf("grouped %d transactions, want %d", total, len(transactions))
	}

	if got := len(groups["Groceries"]); got != 2 {
		t.Errorf("Groceries count = %d, want 2", got)
	}
	if got := len(groups["Other"]); got != 1 {
		t.Errorf("Other count = %d, want 1", got)
	}
}

func TestGroupBy_PreservesOrderWithinGroups(t *testing.T) {
	transactions := []domain.Transaction{
		txn("A", "-1"),
		txn("B", "-2"),
		txn("A", "-3"),
	}

	groups := GroupBy(transactions, func(t domain.Transaction) string { return t.Details })

	a := groups["A"]
	if len(a) != 2 || !a[0].Amount.Equal(decimal.RequireFromString("-1")) {
		t.Errorf("group A order not preserved: %v", a)
	}
}

func TestSummarize_OrdersByOutgoingAscending(t *testing.T) {
	groups := map[string][]domain.Transaction{
		"Big":   {txn("X", "-900.00")},
		"Small": {txn("Y", "-10.00"), txn("Z", "-5.00")},
		"Mixed": {txn("W", "-50.00"), txn("SALARY", "100.00")},
	}

	summaries := Summarize(groups)

	gotOrder := []string{summaries[0].Label, summaries[1].Label, summaries[2].Label}
	wantOrder := []string{"Small", "Mixed", "Big"}
	for i := range wantOrder {
		if gotOrder[i] != wantOrder[i] {
			t.Fatalf("order = %v, want %v", gotOrder, wantOrder)
		}
	}

	if !summaries[0].Outgoing.Equal(decimal.RequireFromString("15.00")) {
		t.Errorf("Small outgoing = %s, want 15.00", summaries[0].Outgoing)
	}
	if summaries[1].Count != 2 {
		t.Errorf("Mixed count = %d, want 2", summaries[1].Count)
	}
	if !summaries[1].Outgoing.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("Mixed outgoing should ignore incoming amounts, got %s", summaries[1].Outgoing)
	}
}
