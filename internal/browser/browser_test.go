package browser_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-e2e/internal/browser"
	"github.com/xkilldash9x/scalpel-e2e/internal/browser/intercept"
	"github.com/xkilldash9x/scalpel-e2e/internal/config"
	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
	"github.com/xkilldash9x/scalpel-e2e/internal/wait"
)

const (
	defaultBrowserTestTimeout = 90 * time.Second
	testCleanupGracePeriod    = 10 * time.Second
	shutdownTimeout           = 15 * time.Second
)

// testPage is a tiny stand-in for the application: a start button, a
// receipt upload that asks the generation API for a summary, a text field
// and a Control+K palette.
const testPage = `<!doctype html>
<html><body>
<button data-testid="start" onclick="document.getElementById('status').textContent='CONNECTED'">START</button>
<div id="status">IDLE</div>
<input type="file" id="upload" style="opacity:0;position:absolute" />
<div id="summary"></div>
<input placeholder="Search..." id="search" oninput="document.getElementById('echo').textContent=this.value" />
<div id="echo"></div>
<div id="palette" style="display:none">PALETTE</div>
<div id="dragme" style="position:absolute;left:10px;top:300px;width:50px;height:50px;background:red"></div>
<script>
console.log('page', 'ready');
document.getElementById('upload').addEventListener('change', async (e) => {
  const res = await fetch('https://generativelanguage.googleapis.com/v1beta/models/x:generateContent', { method: 'POST', body: '{}' });
  const body = await res.json();
  const inner = JSON.parse(body.candidates[0].content.parts[0].text);
  document.getElementById('summary').textContent = inner.summary + ' ' + e.target.files.length;
});
window.addEventListener('keydown', (e) => {
  if (e.ctrlKey && e.key === 'k') document.getElementById('palette').style.display = 'block';
});
const d = document.getElementById('dragme');
let start = null;
d.addEventListener('mousedown', (e) => { start = [e.clientX, d.offsetLeft]; });
window.addEventListener('mousemove', (e) => { if (start) d.style.left = (start[1] + e.clientX - start[0]) + 'px'; });
window.addEventListener('mouseup', () => { start = null; });
</script>
</body></html>`

func findChrome(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in short mode")
	}
	if p := os.Getenv("SCALPEL_E2E_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary found")
	return ""
}

type fixture struct {
	Manager *browser.Manager
	Config  *config.Config
	Logger  *zap.Logger
	RootCtx context.Context
	Server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	execPath := findChrome(t)
	logger := zaptest.NewLogger(t)

	deadline, ok := t.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultBrowserTestTimeout)
	}
	rootCtx, rootCancel := context.WithDeadline(context.Background(), deadline.Add(-testCleanupGracePeriod))
	t.Cleanup(rootCancel)

	cfg := config.NewDefaultConfig()
	cfg.Browser.ExecPath = execPath
	cfg.Browser.Headless = true
	cfg.Timeouts.Settle = 2 * time.Second

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(server.Close)

	m, err := browser.NewManager(rootCtx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Logf("Warning: error during browser manager shutdown: %v", err)
		}
	})

	return &fixture{Manager: m, Config: cfg, Logger: logger, RootCtx: rootCtx, Server: server}
}

func (f *fixture) session(t *testing.T, rules ...intercept.Rule) *browser.Session {
	t.Helper()
	s, err := f.Manager.NewSession(f.RootCtx, browser.SessionOptions{Name: t.Name(), Rules: rules})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSessionInteraction(t *testing.T) {
	f := newFixture(t)
	gen, err := intercept.GenerationRule(intercept.DefaultGenerationPattern, intercept.DefaultGenerationFields)
	require.NoError(t, err)
	s := f.session(t, gen)
	ctx := f.RootCtx
	w := wait.New(s, wait.Options{Poll: 20 * time.Millisecond, Settle: 5 * time.Second}, f.Logger)

	require.NoError(t, s.Navigate(ctx, f.Server.URL))
	assert.Equal(t, f.Server.URL, s.URL())

	t.Run("click", func(t *testing.T) {
		require.NoError(t, s.Click(ctx, locator.TestID("start")))
		require.NoError(t, w.Until(ctx, wait.TextPresent("CONNECTED"), 0))
	})

	t.Run("stubbed upload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "receipt.jpg")
		require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xD8, 0xFF}, 0o600))

		require.NoError(t, s.Upload(ctx, locator.CSS("input[type=file]"), path))
		require.NoError(t, w.Until(ctx, wait.TextPresent("Mega Arasaka Gear 1"), 0))
		assert.Equal(t, 1, s.Interceptor().Hits(intercept.DefaultGenerationPattern))
	})

	t.Run("fill", func(t *testing.T) {
		require.NoError(t, s.Fill(ctx, locator.Placeholder("Search"), "Stealth"))
		require.NoError(t, w.Until(ctx, wait.TextPresent("Stealth"), 0))
	})

	t.Run("press", func(t *testing.T) {
		require.NoError(t, w.Until(ctx, wait.Hidden(locator.Text("PALETTE")), 0))
		require.NoError(t, s.Press(ctx, "Control+k"))
		require.NoError(t, w.Visible(ctx, locator.Text("PALETTE"), 0))
	})

	t.Run("drag", func(t *testing.T) {
		before, err := w.Probe(ctx, locator.CSS("#dragme"))
		require.NoError(t, err)
		require.NoError(t, s.Drag(ctx, locator.CSS("#dragme"), 100, 0))
		after, err := w.Probe(ctx, locator.CSS("#dragme"))
		require.NoError(t, err)
		assert.InDelta(t, before.X+100, after.X, 5)
	})

	t.Run("viewport", func(t *testing.T) {
		require.NoError(t, s.SetViewport(ctx, browser.Phone))
		var width int
		require.NoError(t, s.Evaluate(ctx, `window.innerWidth`, &width))
		assert.Equal(t, 390, width)
		assert.Equal(t, browser.Phone, s.Viewport())
	})

	t.Run("screenshot", func(t *testing.T) {
		png, err := s.Screenshot(ctx, true)
		require.NoError(t, err)
		assert.Equal(t, []byte("\x89PNG"), png[:4])
	})

	t.Run("missing element", func(t *testing.T) {
		err := s.Click(ctx, locator.TestID("nope"))
		assert.ErrorIs(t, err, browser.ErrElementNotFound)
	})

	t.Run("console capture", func(t *testing.T) {
		found := false
		for _, e := range s.ConsoleLog() {
			if e.Source == "console" && e.Text == "page ready" {
				found = true
			}
		}
		assert.True(t, found, "console.log output should be captured")
	})
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	assert.Equal(t, 1, f.Manager.ActiveSessions())

	require.NoError(t, s.Close(f.RootCtx))
	require.NoError(t, s.Close(f.RootCtx))
	assert.Equal(t, 0, f.Manager.ActiveSessions())

	err := s.Navigate(f.RootCtx, f.Server.URL)
	assert.True(t, errors.Is(err, browser.ErrSessionClosed))
}

func TestLaunchFailure(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Browser.ExecPath = filepath.Join(t.TempDir(), "no-such-chrome")
	cfg.Browser.LaunchTimeout = 2 * time.Second

	m, err := browser.NewManager(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	// A missing binary must surface as an error well inside the launch
	// timeout plus teardown, never as a hang.
	type outcome struct{ first, second, shutdown error }
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		_, o.first = m.NewSession(context.Background(), browser.SessionOptions{})
		// Launch is attempted once; the failure sticks.
		_, o.second = m.NewSession(context.Background(), browser.SessionOptions{})
		o.shutdown = m.Shutdown(context.Background())
		done <- o
	}()

	select {
	case o := <-done:
		require.Error(t, o.first)
		assert.ErrorIs(t, o.first, browser.ErrBrowserLaunch)
		assert.ErrorIs(t, o.second, browser.ErrBrowserLaunch)
		assert.NoError(t, o.shutdown)
	case <-time.After(20 * time.Second):
		t.Fatal("NewSession with a missing Chrome binary did not return")
	}
}
