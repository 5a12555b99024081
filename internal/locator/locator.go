// Package locator describes how to find an element on the page under test.
// A Locator is resolved inside the page by a small injected script, so the
// same description works for waiting, probing and acting.
package locator

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind selects the resolution strategy.
type Kind string

const (
	KindTestID      Kind = "testid"
	KindCSS         Kind = "css"
	KindPlaceholder Kind = "placeholder"
	KindRole        Kind = "role"
	KindText        Kind = "text"
)

// Locator identifies one element among possibly many matches. Prefer TestID;
// Text is the fallback when the application exposes no stable identifier.
type Locator struct {
	Kind  Kind   `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
	// Name filters role matches by accessible name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// HasText filters CSS matches by contained text.
	HasText string `json:"hasText,omitempty" yaml:"has_text,omitempty"`
	// Exact switches text comparisons from case-insensitive substring to
	// whitespace-normalized equality.
	Exact bool `json:"exact,omitempty" yaml:"exact,omitempty"`
	// Index picks among matches. Negative values count from the end.
	Index int `json:"index" yaml:"nth,omitempty"`
}

// TestID matches elements by their data-testid attribute.
func TestID(id string) Locator { return Locator{Kind: KindTestID, Value: id} }

// CSS matches elements by selector.
func CSS(selector string) Locator { return Locator{Kind: KindCSS, Value: selector} }

// Placeholder matches inputs by placeholder text.
func Placeholder(text string) Locator { return Locator{Kind: KindPlaceholder, Value: text} }

// Role matches elements by ARIA role and accessible name.
// Supported roles: heading, button, textbox, link.
func Role(role, name string) Locator { return Locator{Kind: KindRole, Value: role, Name: name} }

// Text matches the innermost elements whose text contains s.
func Text(s string) Locator { return Locator{Kind: KindText, Value: s} }

// Button is shorthand for a button containing text, the most common target in
// the application's desktop and window chrome.
func Button(text string) Locator { return CSS("button").WithText(text) }

// Nth returns a copy that picks the i-th match. Nth(-1) is the last match.
func (l Locator) Nth(i int) Locator {
	l.Index = i
	return l
}

// First is Nth(0).
func (l Locator) First() Locator { return l.Nth(0) }

// Last is Nth(-1).
func (l Locator) Last() Locator { return l.Nth(-1) }

// WithText returns a copy filtered by contained text.
func (l Locator) WithText(s string) Locator {
	l.HasText = s
	return l
}

// ExactMatch returns a copy using exact text comparison.
func (l Locator) ExactMatch() Locator {
	l.Exact = true
	return l
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Kind == "" && l.Value == "" }

// Validate checks the locator is resolvable.
func (l Locator) Validate() error {
	if l.Value == "" {
		return fmt.Errorf("locator %q has an empty value", l.Kind)
	}
	switch l.Kind {
	case KindTestID, KindCSS, KindPlaceholder, KindText:
	case KindRole:
		switch l.Value {
		case "heading", "button", "textbox", "link":
		default:
			return fmt.Errorf("unsupported role %q", l.Value)
		}
	default:
		return fmt.Errorf("unknown locator kind %q", l.Kind)
	}
	return nil
}

// String renders the locator in the same form Parse accepts.
func (l Locator) String() string {
	var b strings.Builder
	b.WriteString(string(l.Kind))
	b.WriteByte('=')
	b.WriteString(l.Value)
	if l.Name != "" {
		b.WriteString(" >> name=")
		b.WriteString(l.Name)
	}
	if l.HasText != "" {
		b.WriteString(" >> has-text=")
		b.WriteString(l.HasText)
	}
	if l.Exact {
		b.WriteString(" >> exact")
	}
	if l.Index != 0 {
		b.WriteString(" >> nth=")
		b.WriteString(strconv.Itoa(l.Index))
	}
	return b.String()
}

const segmentSep = " >> "

// Parse reads the textual form produced by String, for example
//
//	css=button >> has-text=FINANCE >> nth=0
//	role=heading >> name=ACTIVE_CHALLENGES
//	text=WAKE_UP_SAMURAI... >> nth=-1
func Parse(s string) (Locator, error) {
	segments := strings.Split(strings.TrimSpace(s), segmentSep)
	kind, value, ok := strings.Cut(segments[0], "=")
	if !ok {
		return Locator{}, fmt.Errorf("locator %q: expected <kind>=<value>", s)
	}
	l := Locator{Kind: Kind(strings.TrimSpace(kind)), Value: value}

	for _, seg := range segments[1:] {
		key, val, _ := strings.Cut(seg, "=")
		switch strings.TrimSpace(key) {
		case "name":
			l.Name = val
		case "has-text":
			l.HasText = val
		case "exact":
			l.Exact = true
		case "nth":
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return Locator{}, fmt.Errorf("locator %q: invalid nth: %w", s, err)
			}
			l.Index = n
		default:
			return Locator{}, fmt.Errorf("locator %q: unknown modifier %q", s, key)
		}
	}

	if err := l.Validate(); err != nil {
		return Locator{}, err
	}
	return l, nil
}

// MustParse is Parse for package level tables. It panics on malformed input.
func MustParse(s string) Locator {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}
