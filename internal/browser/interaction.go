package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-e2e/internal/locator"
)

const dragSteps = 12

// Navigate loads url and waits briefly for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return s.stabilize(ctx)
}

// Reload reloads the current page. Stubs stay installed.
func (s *Session) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navigationTimeout())
	defer cancel()

	if err := s.runActions(navCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return s.stabilize(ctx)
}

// SetViewport resizes the emulated window.
func (s *Session) SetViewport(ctx context.Context, v Viewport) error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("invalid viewport %s", v)
	}
	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	err := s.runActions(ctx, emulation.SetDeviceMetricsOverride(int64(v.Width), int64(v.Height), scale, v.Mobile))
	if err != nil {
		return fmt.Errorf("set viewport %s: %w", v, err)
	}
	s.mu.Lock()
	s.viewport = v
	s.mu.Unlock()
	return nil
}

// Evaluate runs script in the page and unmarshals the result into res, which
// may be nil.
func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.runActions(ctx, chromedp.Evaluate(script, res))
}

// Screenshot captures the viewport, or the whole page when full is set, as PNG.
func (s *Session) Screenshot(ctx context.Context, full bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if full {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.runActions(ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// resolve marks the element l picks and returns a selector for it. A locator
// that matches nothing yields ErrElementNotFound.
func (s *Session) resolve(ctx context.Context, l locator.Locator) (string, locator.Probe, error) {
	token := uuid.New().String()
	var p locator.Probe
	if err := s.Evaluate(ctx, locator.MarkScript(l, token), &p); err != nil {
		return "", p, fmt.Errorf("resolve %s: %w", l, err)
	}
	if !p.Found {
		return "", p, fmt.Errorf("%w: %s", ErrElementNotFound, l)
	}
	return locator.Selector(token), p, nil
}

func (s *Session) resolveVisible(ctx context.Context, l locator.Locator) (string, locator.Probe, error) {
	sel, p, err := s.resolve(ctx, l)
	if err != nil {
		return "", p, err
	}
	if !p.Visible {
		return "", p, fmt.Errorf("%s is not visible", l)
	}
	return sel, p, nil
}

// Click clicks the center of the element.
func (s *Session) Click(ctx context.Context, l locator.Locator) error {
	actCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	sel, _, err := s.resolveVisible(actCtx, l)
	if err != nil {
		return err
	}
	if err := s.runActions(actCtx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", l, err)
	}
	return nil
}

// DoubleClick double-clicks the center of the element.
func (s *Session) DoubleClick(ctx context.Context, l locator.Locator) error {
	actCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	sel, _, err := s.resolveVisible(actCtx, l)
	if err != nil {
		return err
	}
	if err := s.runActions(actCtx, chromedp.DoubleClick(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("double-click %s: %w", l, err)
	}
	return nil
}

// Drag presses the left button on the element's center, moves by (dx, dy) in
// small steps and releases.
func (s *Session) Drag(ctx context.Context, l locator.Locator, dx, dy float64) error {
	actCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	_, p, err := s.resolveVisible(actCtx, l)
	if err != nil {
		return err
	}
	x, y := p.X+p.Width/2, p.Y+p.Height/2

	actions := []chromedp.Action{
		input.DispatchMouseEvent(input.MouseMoved, x, y),
		input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(1),
	}
	for i := 1; i <= dragSteps; i++ {
		f := float64(i) / dragSteps
		actions = append(actions, input.DispatchMouseEvent(input.MouseMoved, x+dx*f, y+dy*f).WithButton(input.Left).WithButtons(1))
	}
	actions = append(actions, input.DispatchMouseEvent(input.MouseReleased, x+dx, y+dy).WithButton(input.Left).WithClickCount(1))

	if err := s.runActions(actCtx, actions...); err != nil {
		return fmt.Errorf("drag %s by (%.0f, %.0f): %w", l, dx, dy, err)
	}
	return nil
}

// Fill focuses the element, selects its content and replaces it with text
// through the input pipeline, so framework change handlers fire.
func (s *Session) Fill(ctx context.Context, l locator.Locator, text string) error {
	actCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	sel, _, err := s.resolveVisible(actCtx, l)
	if err != nil {
		return err
	}
	focus := fmt.Sprintf(`(() => {
const el = document.querySelector(%q);
if (!el) return false;
el.focus();
if (typeof el.select === 'function') el.select();
return document.activeElement === el;
})()`, sel)

	var focused bool
	if err := s.Evaluate(actCtx, focus, &focused); err != nil {
		return fmt.Errorf("fill %s: focus: %w", l, err)
	}
	if !focused {
		return fmt.Errorf("fill %s: element did not take focus", l)
	}

	var action chromedp.Action = input.InsertText(text)
	if text == "" {
		action = chromedp.Tasks{
			keyEvent(input.KeyRawDown, namedKeys["delete"], 0, ""),
			keyEvent(input.KeyUp, namedKeys["delete"], 0, ""),
		}
	}
	if err := s.runActions(actCtx, action); err != nil {
		return fmt.Errorf("fill %s: %w", l, err)
	}
	return nil
}

// Upload sets files on a file input. The input may be visually hidden.
func (s *Session) Upload(ctx context.Context, l locator.Locator, paths ...string) error {
	actCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	sel, _, err := s.resolve(actCtx, l)
	if err != nil {
		return err
	}
	if err := s.runActions(actCtx, chromedp.SetUploadFiles(sel, paths, chromedp.ByQuery, chromedp.NodeReady)); err != nil {
		return fmt.Errorf("upload to %s: %w", l, err)
	}
	return nil
}

// Press sends a key combo such as "Control+k" to the focused element.
func (s *Session) Press(ctx context.Context, combo string) error {
	k, err := ParseCombo(combo)
	if err != nil {
		return err
	}
	actCtx, cancel := context.WithTimeout(ctx, s.actionTimeout())
	defer cancel()

	if err := s.runActions(actCtx, k.Actions()...); err != nil {
		return fmt.Errorf("press %s: %w", combo, err)
	}
	return nil
}
