// Package intercept stubs network calls of a tab through the CDP Fetch domain.
// Rules are installed before the first navigation so no matched request ever
// reaches the network.
package intercept

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Interceptor owns one tab's stub list and hit counters.
type Interceptor struct {
	rules  []Rule
	logger *zap.Logger

	mu      sync.Mutex
	hits    map[string]int
	passed  int
	closed  bool
	pending sync.WaitGroup
}

// New creates an Interceptor over a private copy of rules. First match wins.
func New(logger *zap.Logger, rules ...Rule) *Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	owned := make([]Rule, len(rules))
	copy(owned, rules)
	return &Interceptor{
		rules:  owned,
		logger: logger.Named("intercept"),
		hits:   make(map[string]int),
	}
}

// Rules returns a copy of the installed rules.
func (i *Interceptor) Rules() []Rule {
	out := make([]Rule, len(i.rules))
	copy(out, i.rules)
	return out
}

// Install registers the paused-request listener on the tab in ctx and enables
// Fetch for every URL at the request stage. It must complete before Navigate.
func (i *Interceptor) Install(ctx context.Context) error {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return fmt.Errorf("intercept: context has no attached target")
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			return
		}
		i.pending.Add(1)
		i.mu.Unlock()

		// Actions cannot run on the event loop goroutine.
		go func() {
			defer i.pending.Done()
			i.handle(cdp.WithExecutor(ctx, c.Target), e)
		}()
	})

	patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
	if err := chromedp.Run(ctx, fetch.Enable().WithPatterns(patterns)); err != nil {
		return fmt.Errorf("intercept: enable fetch: %w", err)
	}
	i.logger.Debug("Interception installed.", zap.Int("rules", len(i.rules)))
	return nil
}

func (i *Interceptor) handle(ctx context.Context, e *fetch.EventRequestPaused) {
	req := Request{}
	if e.Request != nil {
		req.URL = e.Request.URL + e.Request.URLFragment
		req.Method = e.Request.Method
		req.Headers = make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			req.Headers[k] = fmt.Sprint(v)
		}
	}

	var action chromedp.Action
	if rule, resp, matched := i.Resolve(req); matched {
		i.logger.Debug("Fulfilling stubbed request.", zap.String("pattern", rule.Pattern()), zap.String("url", req.URL), zap.Int("status", resp.Status))
		action = FulfillParams(e.RequestID, resp)
	} else {
		action = fetch.ContinueRequest(e.RequestID)
	}

	if err := action.Do(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		i.logger.Warn("Failed to resolve paused request.", zap.String("url", req.URL), zap.Error(err))
	}
}

// Resolve picks the rule for req and builds its response, counting the hit.
// matched is false when the request must continue to the network.
// A factory error becomes a 500 so each matched request still gets exactly
// one fulfilment.
func (i *Interceptor) Resolve(req Request) (rule Rule, resp Response, matched bool) {
	for _, r := range i.rules {
		if !r.Matches(req.URL) {
			continue
		}
		i.mu.Lock()
		i.hits[r.pattern]++
		i.mu.Unlock()

		if req.Method == http.MethodOptions {
			return r, preflight(), true
		}
		resp, err := r.Respond(req)
		if err != nil {
			i.logger.Error("Stub response factory failed.", zap.String("pattern", r.pattern), zap.Error(err))
			resp = Response{Status: http.StatusInternalServerError, ContentType: "text/plain; charset=utf-8", Body: []byte(err.Error())}
		}
		return r, resp, true
	}

	i.mu.Lock()
	i.passed++
	i.mu.Unlock()
	return Rule{}, Response{}, false
}

func preflight() Response {
	return Response{
		Status: http.StatusNoContent,
		Headers: map[string]string{
			"Access-Control-Allow-Methods": "GET, POST, PUT, PATCH, DELETE, OPTIONS",
			"Access-Control-Allow-Headers": "*",
			"Access-Control-Max-Age":       "600",
		},
	}
}

// FulfillParams converts resp into a Fetch.fulfillRequest call. Stubs are
// served cross-origin, so CORS is always allowed.
func FulfillParams(id fetch.RequestID, resp Response) *fetch.FulfillRequestParams {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	headers := map[string]string{"Access-Control-Allow-Origin": "*"}
	if resp.ContentType != "" {
		headers["Content-Type"] = resp.ContentType
	}
	for k, v := range resp.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)

	entries := make([]*fetch.HeaderEntry, 0, len(names))
	for _, k := range names {
		entries = append(entries, &fetch.HeaderEntry{Name: k, Value: headers[k]})
	}

	p := fetch.FulfillRequest(id, int64(status)).WithResponseHeaders(entries)
	if len(resp.Body) > 0 {
		p = p.WithBody(base64.StdEncoding.EncodeToString(resp.Body))
	}
	return p
}

// Hits returns how many requests pattern has answered.
func (i *Interceptor) Hits(pattern string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hits[pattern]
}

// Passed returns how many requests matched no rule.
func (i *Interceptor) Passed() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.passed
}

// Summary renders the hit counters in rule order.
func (i *Interceptor) Summary() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	parts := make([]string, 0, len(i.rules))
	for _, r := range i.rules {
		parts = append(parts, fmt.Sprintf("%s=%d", r.pattern, i.hits[r.pattern]))
	}
	return strings.Join(parts, ", ")
}

// Close stops accepting events and waits for in-flight fulfilments, bounded
// by ctx. It is safe to call more than once.
func (i *Interceptor) Close(ctx context.Context) error {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("intercept: waiting for in-flight requests: %w", ctx.Err())
	}
}
