package intercept

import (
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-e2e/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is the part of a paused request a ResponseFactory can see.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
}

// Response is a complete stubbed reply.
type Response struct {
	Status      int
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// ResponseFactory builds the reply for a matched request.
type ResponseFactory func(req Request) (Response, error)

// Rule pairs a URL pattern with a response factory. Rules are immutable once
// built; an Interceptor owns its own list.
type Rule struct {
	pattern string
	matcher Matcher
	respond ResponseFactory
}

// NewRule compiles pattern and binds it to respond.
func NewRule(pattern string, respond ResponseFactory) (Rule, error) {
	if respond == nil {
		return Rule{}, fmt.Errorf("stub %q: nil response factory", pattern)
	}
	m, err := Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("stub %q: %w", pattern, err)
	}
	return Rule{pattern: pattern, matcher: m, respond: respond}, nil
}

// MustRule is NewRule for static tables.
func MustRule(pattern string, respond ResponseFactory) Rule {
	r, err := NewRule(pattern, respond)
	if err != nil {
		panic(err)
	}
	return r
}

// Pattern returns the source pattern.
func (r Rule) Pattern() string { return r.pattern }

// Matches reports whether url falls under the rule.
func (r Rule) Matches(url string) bool { return r.matcher != nil && r.matcher.Match(url) }

// Respond builds the reply for req.
func (r Rule) Respond(req Request) (Response, error) { return r.respond(req) }

// Static always answers with the same status, content type and body.
func Static(status int, contentType string, body []byte) ResponseFactory {
	return func(Request) (Response, error) {
		return Response{Status: status, ContentType: contentType, Body: body}, nil
	}
}

// StaticJSON encodes v once and serves it with status.
func StaticJSON(status int, v interface{}) (ResponseFactory, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode stub body: %w", err)
	}
	return Static(status, "application/json", body), nil
}

// RulesFromConfig turns declared stubs into rules.
func RulesFromConfig(stubs []config.StubConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(stubs))
	for i, s := range stubs {
		status := s.Status
		if status == 0 {
			status = http.StatusOK
		}

		var factory ResponseFactory
		if s.Generation != nil {
			body, err := GenerationEnvelope(GenerationFields{
				Amount:   s.Generation.Amount,
				Summary:  s.Generation.Summary,
				Category: s.Generation.Category,
			})
			if err != nil {
				return nil, fmt.Errorf("stubs[%d]: %w", i, err)
			}
			factory = Static(status, "application/json", body)
		} else {
			ct := s.ContentType
			if ct == "" {
				ct = "text/plain; charset=utf-8"
			}
			factory = Static(status, ct, []byte(s.Body))
		}

		if len(s.Headers) > 0 {
			factory = withHeaders(factory, s.Headers)
		}

		rule, err := NewRule(s.Pattern, factory)
		if err != nil {
			return nil, fmt.Errorf("stubs[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func withHeaders(next ResponseFactory, headers map[string]string) ResponseFactory {
	return func(req Request) (Response, error) {
		resp, err := next(req)
		if err != nil {
			return resp, err
		}
		merged := make(map[string]string, len(resp.Headers)+len(headers))
		for k, v := range resp.Headers {
			merged[k] = v
		}
		for k, v := range headers {
			merged[k] = v
		}
		resp.Headers = merged
		return resp, nil
	}
}

// Merge returns base with every rule in overrides appended, except that an
// override whose pattern equals a base rule's replaces it in place.
func Merge(base []Rule, overrides ...Rule) []Rule {
	out := make([]Rule, len(base), len(base)+len(overrides))
	copy(out, base)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].pattern == o.pattern {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
