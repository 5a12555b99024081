package reporting

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/results"
)

const captureTimeout = 10 * time.Second

// Page is what the recorder needs from a session.
type Page interface {
	Screenshot(ctx context.Context, full bool) ([]byte, error)
	ConsoleLog() []browser.ConsoleEntry
}

// Transcript serializes PASS/FAIL lines from concurrent scenarios onto one
// writer so lines never interleave.
type Transcript struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTranscript(w io.Writer) *Transcript {
	if w == nil {
		w = io.Discard
	}
	return &Transcript{w: w}
}

// Line writes one line.
func (t *Transcript) Line(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format+"\n", args...)
}

// RecorderOptions controls artifact capture.
type RecorderOptions struct {
	// Dir is the artifact root; each scenario writes below Dir/<scenario>.
	Dir      string
	FullPage bool
	Console  bool
}

// Recorder writes one scenario's transcript lines and artifacts. Artifact
// failures are logged and never returned, so capture cannot change the
// outcome of a scenario.
type Recorder struct {
	scenario   string
	dir        string
	opts       RecorderOptions
	transcript *Transcript
	result     *results.ScenarioResult
	logger     *zap.Logger

	mu   sync.Mutex
	page Page
	seq  int
}

// NewRecorder creates a recorder for result's scenario.
func NewRecorder(t *Transcript, result *results.ScenarioResult, opts RecorderOptions, logger *zap.Logger) *Recorder {
	if t == nil {
		t = NewTranscript(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		scenario:   result.Scenario,
		dir:        filepath.Join(opts.Dir, Slug(result.Scenario)),
		opts:       opts,
		transcript: t,
		result:     result,
		logger:     logger.Named("recorder"),
	}
}

// Attach sets the page screenshots are taken from.
func (r *Recorder) Attach(p Page) {
	r.mu.Lock()
	r.page = p
	r.mu.Unlock()
}

// Dir returns the scenario's artifact directory.
func (r *Recorder) Dir() string { return r.dir }

// Record writes the transcript line for one checkpoint.
func (r *Recorder) Record(label string, outcome results.Outcome, reason string) {
	if reason != "" && outcome != results.OutcomePass {
		r.transcript.Line("[%s] %s: %s (%s)", r.scenario, outcome, label, reason)
		return
	}
	r.transcript.Line("[%s] %s: %s", r.scenario, outcome, label)
}

// Note writes a free-form transcript line.
func (r *Recorder) Note(format string, args ...interface{}) {
	r.transcript.Line("[%s] "+format, append([]interface{}{r.scenario}, args...)...)
}

// Capture saves a screenshot named <nn>_<name>.png and returns its path, or
// "" when nothing could be captured.
func (r *Recorder) Capture(ctx context.Context, name string) string {
	r.mu.Lock()
	page := r.page
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	if page == nil {
		r.logger.Debug("No page attached, skipping capture.", zap.String("name", name))
		return ""
	}

	// A failing scenario may arrive here with an expired context.
	capCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureTimeout)
	defer cancel()

	png, err := page.Screenshot(capCtx, r.opts.FullPage)
	if err != nil {
		r.logger.Warn("Screenshot failed.", zap.String("name", name), zap.Error(err))
		return ""
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%02d_%s.png", seq, Slug(name)))
	if err := r.write(path, png); err != nil {
		r.logger.Warn("Failed to write screenshot.", zap.String("path", path), zap.Error(err))
		return ""
	}
	r.result.AddArtifact(path)
	r.logger.Debug("Screenshot saved.", zap.String("path", path))
	return path
}

// Finish takes the final screenshot and dumps the console log. It returns
// the screenshot path.
func (r *Recorder) Finish(ctx context.Context) string {
	path := r.Capture(ctx, "final")

	r.mu.Lock()
	page := r.page
	r.mu.Unlock()
	if !r.opts.Console || page == nil {
		return path
	}

	entries := page.ConsoleLog()
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	logPath := filepath.Join(r.dir, "console.log")
	if err := r.write(logPath, []byte(b.String())); err != nil {
		r.logger.Warn("Failed to write console log.", zap.String("path", logPath), zap.Error(err))
		return path
	}
	r.result.AddArtifact(logPath)
	return path
}

func (r *Recorder) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and joins its alphanumeric runs with underscores.
func Slug(s string) string {
	out := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "_"), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
