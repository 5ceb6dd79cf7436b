package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	// DefaultFileName is the history database file name.
	DefaultFileName = "result-history.sqlite3"

	appDirName = "testoor"
)

// DefaultSQLitePath returns the history file location: inside the XDG data
// home when one is known, otherwise the current working directory.
func DefaultSQLitePath() (string, error) {
	if xdg.DataHome != "" {
		dir := filepath.Join(xdg.DataHome, appDirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating data directory: %w", err)
		}

		return filepath.Join(dir, DefaultFileName), nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}

	return filepath.Join(wd, DefaultFileName), nil
}

// ResolveSQLitePath returns path, or the default location when path is empty.
func ResolveSQLitePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}

	return DefaultSQLitePath()
}
