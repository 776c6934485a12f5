// Package cluster provides a YAML-based rules engine that groups transactions
// into labeled clusters for the summary report.
package cluster

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
)

//go:embed clusters.yaml
var embeddedClusters []byte

// DefaultLabel is the cluster for transactions no pattern matches when the
// rule set does not name its own default.
const DefaultLabel = "Other"

// Rule assigns a label to transactions whose details match the pattern.
// Patterns are Go regular expressions and carry their own flags (e.g. (?i)).
type Rule struct {
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"`

	re *regexp.Regexp
}

// ruleSet is the top-level YAML structure.
type ruleSet struct {
	DefaultLabel string `yaml:"default_label"`
	Clusters     []Rule `yaml:"clusters"`
}

// Engine matches transaction details against an ordered rule list; the first
// matching rule's label wins.
type Engine struct {
	rules        []Rule
	defaultLabel string
}

// NewEngine creates a cluster engine from YAML data.
func NewEngine(data []byte) (*Engine, error) {
	var set ruleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse YAML clusters (check syntax and indentation): %w", err)
	}

	for i := range set.Clusters {
		rule := &set.Clusters[i]
		if strings.TrimSpace(rule.Label) == "" {
			return nil, fmt.Errorf("cluster %d: label cannot be empty", i)
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return nil, fmt.Errorf("cluster %d (%s): pattern cannot be empty", i, rule.Label)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("cluster %d (%s): invalid pattern: %w", i, rule.Label, err)
		}
		rule.re = re
	}

	defaultLabel := set.DefaultLabel
	if defaultLabel == "" {
		defaultLabel = DefaultLabel
	}

	return &Engine{rules: set.Clusters, defaultLabel: defaultLabel}, nil
}

// LoadEmbedded loads the embedded clusters.yaml rule set.
func LoadEmbedded() (*Engine, error) {
	engine, err := NewEngine(embeddedClusters)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded clusters: %w", err)
	}
	return engine, nil
}

// LoadFromFile loads a rule set from a filesystem path.
func LoadFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read clusters file: %w", err)
	}
	engine, err := NewEngine(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load clusters from %q: %w", path, err)
	}
	return engine, nil
}

// Label returns the label of the first rule matching the details text, or
// the default label when nothing matches.
func (e *Engine) Label(details string) string {
	for _, rule := range e.rules {
		if rule.re.MatchString(details) {
			return rule.Label
		}
	}
	return e.defaultLabel
}

// ClusterByPattern assigns every transaction to exactly one labeled group.
func (e *Engine) ClusterByPattern(transactions []domain.Transaction) map[string][]domain.Transaction {
	return GroupBy(transactions, func(t domain.Transaction) string {
		return e.Label(t.Details)
	})
}

// GroupBy partitions transactions by the key function, preserving input
// order within each group. Every input transaction appears in exactly one
// group.
func GroupBy(transactions []domain.Transaction, key func(domain.Transaction) string) map[string][]domain.Transaction {
	groups := make(map[string][]domain.Transaction)
	for _, t := range transactions {
		k := key(t)
		groups[k] = append(groups[k], t)
	}
	return groups
}

// GroupSummary is one reported group: its label, member count, and the sum
// of absolute outgoing amounts.
type GroupSummary struct {
	Label        string
	Count        int
	Outgoing     decimal.Decimal
	Transactions []domain.Transaction
}

// Summarize orders groups by summed absolute outgoing amount, ascending.
// Equal sums fall back to label order so the report is deterministic.
func Summarize(groups map[string][]domain.Transaction) []GroupSummary {
	summaries := make([]GroupSummary, 0, len(groups))
	for label, members := range groups {
		summaries = append(summaries, GroupSummary{
			Label:        label,
			Count:        len(members),
			Outgoing:     sumOutgoing(members),
			Transactions: members,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].Outgoing.Equal(summaries[j].Outgoing) {
			return summaries[i].Outgoing.LessThan(summaries[j].Outgoing)
		}
		return summaries[i].Label < summaries[j].Label
	})

	return summaries
}

// sumOutgoing sums the absolute amounts of the outgoing transactions in the
// group. Local to this package: no shared container type grows helpers.
func sumOutgoing(transactions []domain.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range transactions {
		if t.Outgoing() {
			sum = sum.Add(t.Amount.Neg())
		}
	}
	return sum
}
