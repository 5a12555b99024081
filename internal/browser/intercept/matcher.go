package intercept

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether a full request URL is covered by a stub.
type Matcher interface {
	Match(url string) bool
	String() string
}

const regexPrefix = "re:"

// Compile builds a Matcher from a pattern:
//
//	re:<expr>   regular expression, unanchored
//	glob        when the pattern has any of * ? { (anchored to the full URL)
//	substring   otherwise
//
// In globs "*" stays within one path segment, "**" crosses segments, "?" is
// one character and "{a,b}" is an alternation.
func Compile(pattern string) (Matcher, error) {
	switch {
	case pattern == "":
		return nil, fmt.Errorf("empty url pattern")
	case strings.HasPrefix(pattern, regexPrefix):
		re, err := regexp.Compile(strings.TrimPrefix(pattern, regexPrefix))
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", pattern, err)
		}
		return regexMatcher{pattern: pattern, re: re}, nil
	case strings.ContainsAny(pattern, "*?{"):
		expr, err := globToRegexp(pattern)
		if err != nil {
			return nil, err
		}
		return regexMatcher{pattern: pattern, re: regexp.MustCompile(expr)}, nil
	default:
		return substringMatcher(pattern), nil
	}
}

type regexMatcher struct {
	pattern string
	re      *regexp.Regexp
}

func (m regexMatcher) Match(url string) bool { return m.re.MatchString(url) }
func (m regexMatcher) String() string        { return m.pattern }

type substringMatcher string

func (m substringMatcher) Match(url string) bool { return strings.Contains(url, string(m)) }
func (m substringMatcher) String() string        { return string(m) }

func globToRegexp(glob string) (string, error) {
	var b strings.Builder
	b.WriteString("^")
	inGroup := false
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		case '{':
			if inGroup {
				return "", fmt.Errorf("glob %q: nested braces are not supported", glob)
			}
			inGroup = true
			b.WriteString("(?:")
		case '}':
			if !inGroup {
				return "", fmt.Errorf("glob %q: unbalanced '}'", glob)
			}
			inGroup = false
			b.WriteString(")")
		case ',':
			if inGroup {
				b.WriteString("|")
			} else {
				b.WriteString(",")
			}
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inGroup {
		return "", fmt.Errorf("glob %q: unbalanced '{'", glob)
	}
	b.WriteString("$")
	return b.String(), nil
}
