package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/scalpel-e2e/internal/config"
)

// ExecAllocatorOptions translates the browser config into allocator options.
// The set is spelled out rather than taken from chromedp's defaults so the
// headless flag is always explicit.
func ExecAllocatorOptions(cfg config.BrowserConfig, userDataDir string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}
	if userDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(userDataDir))
	}

	// key=value flags carry a value, bare ones are boolean.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}
