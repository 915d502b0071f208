package env

import (
	"os"
	"path/filepath"
)

// WorkDir returns the per-user directory of crossdeps.
func WorkDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, ".crossdeps"), nil
}

// SourcesDir returns the default artifact cache, creating it if needed.
func SourcesDir() (string, error) {
	dir, err := WorkDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "sources")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
