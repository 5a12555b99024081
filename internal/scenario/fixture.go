package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xkilldash9x/scalpel-e2e/internal/reporting"
)

// DefaultFixtureName is used when an upload step names no file.
const DefaultFixtureName = "receipt.jpg"

// FixtureContent is a JPEG start-of-image marker padded with zero bytes. The
// application only sniffs the header.
func FixtureContent() []byte {
	b := make([]byte, 3+100)
	b[0], b[1], b[2] = 0xFF, 0xD8, 0xFF
	return b
}

// Fixtures owns the upload files of one scenario run. Files live in a
// private temp directory removed by Cleanup.
type Fixtures struct {
	parent string
	prefix string

	mu  sync.Mutex
	dir string
}

// NewFixtures creates a lazily allocated fixture set. An empty parent uses
// the system temp directory.
func NewFixtures(parent, scenario string) *Fixtures {
	return &Fixtures{parent: parent, prefix: "scalpel-e2e-" + reporting.Slug(scenario) + "-"}
}

// Path writes the fixture named name, once, and returns its path.
func (f *Fixtures) Path(name string) (string, error) {
	if name == "" {
		name = DefaultFixtureName
	}
	if filepath.Base(name) != name {
		return "", fmt.Errorf("fixture name %q must not contain a path", name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir == "" {
		if f.parent != "" {
			if err := os.MkdirAll(f.parent, 0o755); err != nil {
				return "", fmt.Errorf("create fixture parent: %w", err)
			}
		}
		dir, err := os.MkdirTemp(f.parent, f.prefix)
		if err != nil {
			return "", fmt.Errorf("create fixture dir: %w", err)
		}
		f.dir = dir
	}

	path := filepath.Join(f.dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, FixtureContent(), 0o600); err != nil {
		return "", fmt.Errorf("write fixture: %w", err)
	}
	return path, nil
}

// Dir is the fixture directory, or "" before the first Path call.
func (f *Fixtures) Dir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dir
}

// Cleanup removes every fixture. It is safe to call more than once.
func (f *Fixtures) Cleanup() error {
	f.mu.Lock()
	dir := f.dir
	f.dir = ""
	f.mu.Unlock()
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
