// Package credentials resolves the login credentials from flags or the
// credentials file. Credentials are never written back to disk.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rumor-ml/commons.systems/icaporter/internal/session"
)

// DefaultPath is the conventional credentials file location. The leading ~
// is expanded at load time.
const DefaultPath = "~/.ica_credentials"

// ErrNotFound reports that no credentials were given on the command line and
// no credentials file was readable.
var ErrNotFound = errors.New("no credentials: pass -pnr and -pin or create " + DefaultPath)

// Resolve picks credentials with flags taking precedence over the file.
// Both flag values must be set to count; a lone -pnr or -pin falls through
// to the file so a partially flagged invocation cannot mix sources.
func Resolve(pnr, pin, path string) (session.Credentials, error) {
	if pnr != "" && pin != "" {
		return session.Credentials{Personnummer: pnr, PIN: pin}, nil
	}
	if pnr != "" || pin != "" {
		return session.Credentials{}, fmt.Errorf("-pnr and -pin must be given together")
	}

	creds, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Credentials{}, ErrNotFound
		}
		return session.Credentials{}, err
	}
	return creds, nil
}

// Load reads a credentials file: the first whitespace-separated field is the
// personnummer, the second the PIN code. Anything after the second field is
// ignored.
func Load(path string) (session.Credentials, error) {
	expanded := expandHome(path)

	data, err := os.ReadFile(expanded)
	if err != nil {
		// Unwrapped so callers can check os.IsNotExist.
		return session.Credentials{}, err
	}

	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return session.Credentials{}, fmt.Errorf("credentials file %s: expected personnummer and PIN, got %d fields", expanded, len(fields))
	}

	return session.Credentials{Personnummer: fields[0], PIN: fields[1]}, nil
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
