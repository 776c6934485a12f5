package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/icaporter/internal/agent"
	"github.com/rumor-ml/commons.systems/icaporter/internal/cluster"
	"github.com/rumor-ml/commons.systems/icaporter/internal/credentials"
	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
	"github.com/rumor-ml/commons.systems/icaporter/internal/export"
	"github.com/rumor-ml/commons.systems/icaporter/internal/monthspan"
	"github.com/rumor-ml/commons.systems/icaporter/internal/session"
	"github.com/rumor-ml/commons.systems/icaporter/internal/statement"
	"github.com/rumor-ml/commons.systems/icaporter/internal/ui"
)

const (
	version = "0.1.0"

	defaultOutputDir = "~/Documents/icpenses/data"
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")

	// Credential flags; -pnr/-pin together override the file
	credentialsFile = flag.String("credentials", credentials.DefaultPath, "Credentials file (personnummer and PIN)")
	pnrFlag         = flag.String("pnr", "", "Personnummer (requires -pin)")
	pinFlag         = flag.String("pin", "", "PIN code (requires -pnr)")

	// Selection flags
	monthFlag   = flag.String("month", "0", "Month to export: YYYY-MM, or months back from now")
	accountFlag = flag.String("account", "", "Account number or name (default: first account)")

	// Output and report flags
	outputDir  = flag.String("output", defaultOutputDir, "Output directory for export files")
	rulesFile  = flag.String("rules", "", "Custom cluster rules file (default: embedded rules)")
	reportFlag = flag.Bool("report", false, "Print a clustered spending report to stderr")

	timeoutFlag = flag.Duration("timeout", agent.DefaultTimeout, "HTTP timeout per request")
	verbose     = flag.Bool("verbose", false, "Show detailed progress logs")
	baseURL     = flag.String("base-url", session.DefaultBaseURL, "Bank portal root URL")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `icaporter - Export ICA Banken transactions as JSON

Usage:
  icaporter [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Export last month for the first account
  icaporter -month 1

  # Export a specific month for a named account, with a spending report
  icaporter -month 2010-01 -account "ICA KONTO" -report

  # Credentials from flags instead of ~/.ica_credentials
  icaporter -pnr 1212121212 -pin 123456

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("icaporter version %s\n", version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		reportFailure(err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	creds, err := credentials.Resolve(*pnrFlag, *pinFlag, *credentialsFile)
	if err != nil {
		return err
	}

	period, err := monthspan.Parse(*monthFlag, time.Now())
	if err != nil {
		return err
	}

	engine, err := loadClusters()
	if err != nil {
		return err
	}

	if !*verbose {
		ui.Header("ICA Banken Export")
	}

	a, err := agent.New(agent.WithTimeout(*timeoutFlag))
	if err != nil {
		return fmt.Errorf("failed to create HTTP agent: %w", err)
	}
	sess := session.New(a, creds, session.WithBaseURL(*baseURL))

	if *verbose {
		fmt.Fprintf(os.Stderr, "Logging in to %s\n", *baseURL)
	} else {
		ui.Step(1, 4, "Logging in")
	}

	dir, err := sess.Login(ctx)
	if err != nil {
		return err
	}
	if sess.RetriedDoubleSession() {
		ui.Warning("Recovered from a double session conflict; another session was active")
	}

	account, err := pickAccount(dir, *accountFlag)
	if err != nil {
		return err
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Found %d accounts, using %s\n", len(dir.List()), account)
		fmt.Fprintf(os.Stderr, "Fetching statement %s to %s\n",
			period.Start().Format("2006-01-02"), period.End().Format("2006-01-02"))
	} else {
		ui.Step(2, 4, "Fetching statement for %s", account.Number)
	}

	fetcher := statement.NewFetcher(a, statement.WithBaseURL(*baseURL))
	transactions, err := fetcher.Fetch(ctx, account, period)
	if err != nil {
		return err
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Parsed %d transactions\n", len(transactions))
	} else {
		ui.Step(3, 4, "Writing export")
	}

	path, err := export.Write(*outputDir, account, period, transactions)
	if err != nil {
		return err
	}

	outgoing := 0
	for _, txn := range transactions {
		if txn.Outgoing() {
			outgoing++
		}
	}
	ui.Success("Wrote %d outgoing transactions (of %d) to %s", outgoing, len(transactions), path)

	if !*reportFlag {
		return nil
	}

	if *verbose {
		fmt.Fprintln(os.Stderr, "Clustering transactions")
	} else {
		ui.Step(4, 4, "Clustering transactions")
	}
	printReport(engine, transactions)

	return nil
}

// loadClusters resolves the cluster rules: a custom file when given, the
// embedded defaults otherwise. Loaded up front so a broken rules file fails
// before any network traffic.
func loadClusters() (*cluster.Engine, error) {
	if *rulesFile != "" {
		engine, err := cluster.LoadFromFile(*rulesFile)
		if err != nil {
			return nil, err
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Loaded cluster rules from %s\n", *rulesFile)
		}
		return engine, nil
	}
	return cluster.LoadEmbedded()
}

// pickAccount resolves the account selector against the directory. An empty
// selector means the first discovered account.
func pickAccount(dir *session.Directory, selector string) (domain.Account, error) {
	if selector == "" {
		return dir.First(), nil
	}

	account, ok := dir.Find(selector)
	if !ok {
		var numbers []string
		for _, a := range dir.List() {
			numbers = append(numbers, a.String())
		}
		return domain.Account{}, fmt.Errorf("no account matches %q; available accounts:\n  %s",
			selector, strings.Join(numbers, "\n  "))
	}
	return account, nil
}

// printReport prints the clustered spending summary, smallest cluster first.
func printReport(engine *cluster.Engine, transactions []domain.Transaction) {
	groups := engine.ClusterByPattern(transactions)
	summaries := cluster.Summarize(groups)

	fmt.Fprintln(os.Stderr)
	total := 0
	for _, s := range summaries {
		fmt.Fprintf(os.Stderr, "%s: %s kr (%d transactions)\n",
			ui.BlueText(s.Label), ui.YellowText(s.Outgoing.StringFixed(2)), s.Count)
		if *verbose {
			for _, txn := range s.Transactions {
				if !txn.Outgoing() {
					continue
				}
				fmt.Fprintf(os.Stderr, "  %s  %10s  %s\n",
					txn.Date.Format("2006-01-02"), txn.Amount.StringFixed(2), txn.Details)
			}
		}
		total += s.Count
	}
	ui.Info("%d transactions across %d clusters", total, len(summaries))
}

// reportFailure maps the failure taxonomy to actionable messages.
func reportFailure(err error) {
	var (
		rejected    *session.RejectedError
		conflict    *session.DoubleSessionError
		unavailable *statement.StatementUnavailableError
	)

	switch {
	case errors.Is(err, credentials.ErrNotFound):
		ui.Error("%v", err)
		ui.Info("The credentials file holds two fields: personnummer and PIN")
	case errors.As(err, &rejected):
		ui.Error("The bank rejected the login: %s (code %d)", rejected.Reason, rejected.Code)
		ui.Info("Check the personnummer and PIN; repeated failures can lock the account")
	case errors.As(err, &conflict):
		ui.Error("Another session is already active and kept the lock after a retry")
		ui.Info("Close other browser sessions with the bank, wait a minute, and rerun")
	case errors.Is(err, session.ErrNoAccounts):
		ui.Error("Login succeeded but no accounts were found")
		ui.Info("The portal markup may have changed; rerun with -verbose")
	case errors.As(err, &unavailable):
		ui.Error("%v", err)
		ui.Info("The session may have expired mid-run; rerun to start a fresh one")
	default:
		ui.Error("%v", err)
	}
}
