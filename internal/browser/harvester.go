package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConsoleEntry is one console message, browser log entry or uncaught page
// error.
type ConsoleEntry struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"` // console, log or exception
	Level  string    `json:"level"`
	Text   string    `json:"text"`
}

func (e ConsoleEntry) String() string {
	if e.Source == "exception" {
		return fmt.Sprintf("%s PAGE ERROR: %s", e.Time.Format("15:04:05.000"), e.Text)
	}
	return fmt.Sprintf("%s %s.%s: %s", e.Time.Format("15:04:05.000"), e.Source, e.Level, e.Text)
}

// Harvester listens to one tab's events. It keeps the ordered console buffer
// and the set of in-flight requests used for network-idle detection.
type Harvester struct {
	logger *zap.Logger

	mu           sync.Mutex
	entries      []ConsoleEntry
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
}

// NewHarvester creates an idle harvester. Call Start to attach it.
func NewHarvester(logger *zap.Logger) *Harvester {
	return &Harvester{
		logger:       logger.Named("harvester"),
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
	}
}

// Start registers the listener on the tab in ctx and enables the domains it
// needs. The listener lives as long as ctx.
func (h *Harvester) Start(ctx context.Context) error {
	chromedp.ListenTarget(ctx, h.handle)
	if err := chromedp.Run(ctx, runtime.Enable(), log.Enable(), network.Enable()); err != nil {
		return fmt.Errorf("enable event domains: %w", err)
	}
	return nil
}

func (h *Harvester) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.track(e.RequestID, true)
	case *network.EventLoadingFinished:
		h.track(e.RequestID, false)
	case *network.EventLoadingFailed:
		h.track(e.RequestID, false)

	case *runtime.EventConsoleAPICalled:
		h.add(ConsoleEntry{Time: runtimeTime(e.Timestamp), Source: "console", Level: string(e.Type), Text: consoleText(e.Args)})
	case *log.EventEntryAdded:
		if e.Entry != nil {
			h.add(ConsoleEntry{Time: time.Now(), Source: "log", Level: string(e.Entry.Level), Text: e.Entry.Text})
		}
	case *runtime.EventExceptionThrown:
		h.add(ConsoleEntry{Time: runtimeTime(e.Timestamp), Source: "exception", Level: "error", Text: exceptionText(e.ExceptionDetails)})
	}
}

func (h *Harvester) track(id network.RequestID, started bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if started {
		h.inflight[id] = struct{}{}
	} else {
		delete(h.inflight, id)
	}
	h.lastActivity = time.Now()
}

func (h *Harvester) add(e ConsoleEntry) {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()

	if e.Level == "error" || e.Source == "exception" {
		h.logger.Warn("Browser error.", zap.String("source", e.Source), zap.String("text", e.Text))
	} else {
		h.logger.Debug("Browser console.", zap.String("level", e.Level), zap.String("text", e.Text))
	}
}

// Entries returns a copy of the console buffer in arrival order.
func (h *Harvester) Entries() []ConsoleEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ConsoleEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Inflight returns the number of requests still loading.
func (h *Harvester) Inflight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// WaitNetworkIdle returns once no request has been in flight for quiet.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	tick := quiet / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		h.mu.Lock()
		idle := len(h.inflight) == 0 && time.Since(h.lastActivity) >= quiet
		h.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func runtimeTime(ts *runtime.Timestamp) time.Time {
	if ts == nil {
		return time.Now()
	}
	return ts.Time()
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case len(arg.Value) > 0:
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
		case arg.UnserializableValue != "":
			parts = append(parts, string(arg.UnserializableValue))
		case arg.Description != "":
			parts = append(parts, arg.Description)
		default:
			parts = append(parts, "["+string(arg.Type)+"]")
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d == nil {
		return ""
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Exception.Description
	}
	return d.Text
}
