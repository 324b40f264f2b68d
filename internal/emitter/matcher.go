package emitter

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether a listener entry applies to an event name.
type Matcher interface {
	Match(name string) bool
	String() string
}

type exactMatcher string

func (m exactMatcher) Match(name string) bool { return string(m) == name }
func (m exactMatcher) String() string         { return string(m) }

// Exact matches one event name by string equality.
func Exact(name string) Matcher {
	return exactMatcher(name)
}

type patternMatcher struct {
	re *regexp.Regexp
}

func (m patternMatcher) Match(name string) bool { return m.re.MatchString(name) }
func (m patternMatcher) String() string         { return "/" + m.re.String() + "/" }

// Pattern matches event names against a compiled regular expression.
func Pattern(re *regexp.Regexp) Matcher {
	return patternMatcher{re: re}
}

// MustPattern compiles expr and panics on error. Intended for package-level
// listener tables.
func MustPattern(expr string) Matcher {
	return Pattern(regexp.MustCompile(expr))
}

// Glob compiles a shell-style pattern where "*" matches any run of
// characters, e.g. "before-*" or "*-delete".
func Glob(glob string) (Matcher, error) {
	if glob == "" {
		return nil, fmt.Errorf("empty glob")
	}
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("compile glob %q: %w", glob, err)
	}
	return Pattern(re), nil
}

// ParseMatcher returns a glob matcher when s contains "*", otherwise an exact one.
func ParseMatcher(s string) (Matcher, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty event matcher")
	}
	if strings.Contains(s, "*") {
		return Glob(s)
	}
	return Exact(s), nil
}
