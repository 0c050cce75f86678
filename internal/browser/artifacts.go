// internal/browser/artifacts.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
)

// screenshotStore writes PNG captures to a directory and hands back their path
// as the artifact reference.
type screenshotStore struct {
	dir string
}

// newScreenshotStore expands a leading ~ in dir. The directory is created on
// first write.
func newScreenshotStore(dir string) (*screenshotStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "pagescout-screenshots")
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("could not expand screenshot directory %q: %w", dir, err)
	}
	return &screenshotStore{dir: expanded}, nil
}

// Save writes png under a fresh uuid-based name and returns the file path.
func (s *screenshotStore) Save(png []byte) (string, error) {
	if len(png) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create screenshot directory: %w", err)
	}
	path := filepath.Join(s.dir, uuid.NewString()+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("could not write screenshot: %w", err)
	}
	return path, nil
}

// Dir returns the expanded directory.
func (s *screenshotStore) Dir() string { return s.dir }
