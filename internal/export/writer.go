// Package export writes per-account monthly exports as JSON files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
)

// Directory and file modes. Export files can carry full transaction
// histories, so both are restricted to the owner.
const (
	dirMode  = 0o700
	fileMode = 0o600
)

// Write builds the outgoing-only export for the account and period and
// writes it under dir, creating the directory if needed. It returns the path
// of the written file.
//
// The filename encodes the period's month and the account number, so
// repeated runs for the same month overwrite the previous export.
func Write(dir string, account domain.Account, period domain.Period, transactions []domain.Transaction) (path string, err error) {
	dir = expandHome(dir)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	// MkdirAll leaves pre-existing directories untouched; tighten them too.
	if err := os.Chmod(dir, dirMode); err != nil {
		return "", fmt.Errorf("failed to restrict output directory %s: %w", dir, err)
	}

	export := domain.NewExport(account, period, transactions)

	path = filepath.Join(dir, Filename(account, period))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return "", fmt.Errorf("failed to create export file %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close export file %s: %w", path, closeErr)
		}
	}()

	if err = WriteTo(f, export); err != nil {
		return "", fmt.Errorf("failed to write export to %s: %w", path, err)
	}

	return path, err
}

// WriteTo serializes the export as JSON with 2-space indentation.
func WriteTo(w io.Writer, export *domain.Export) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("failed to encode export as JSON: %w", err)
	}
	return nil
}

// Load reads a previously written export file.
func Load(path string) (*domain.Export, error) {
	f, err := os.Open(path)
	if err != nil {
		// Unwrapped so callers can check os.IsNotExist.
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", path, closeErr)
		}
	}()

	var export domain.Export
	if err := json.NewDecoder(f).Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to decode export JSON from %s: %w", path, err)
	}

	return &export, nil
}

// Filename is "{YYYY-MM}_{account number}.json" with spaces in the number
// replaced by underscores, e.g. "2010-01_1234_56_789.json".
func Filename(account domain.Account, period domain.Period) string {
	number := strings.ReplaceAll(account.Number, " ", "_")
	return fmt.Sprintf("%s_%s.json", period.Start().Format("2006-01"), number)
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
