// Package pattern compiles wildcard key patterns and picks the best match
// for a bucket key. The only metacharacter is '*', which matches any run of
// characters. Priority decides between multiple matching patterns; ties are
// broken by lexicographic pattern order, which callers must not rely on
// beyond its stability.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Compiled is a wildcard pattern ready for matching.
type Compiled struct {
	pattern  string
	priority int
	re       *regexp.Regexp
}

// Compile turns a wildcard pattern into an anchored matcher. A negative
// priority requests the auto-computed one.
func Compile(pat string, priority int) (*Compiled, error) {
	if pat == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	parts := strings.Split(pat, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pat, err)
	}
	if priority < 0 {
		priority = CalculatePriority(pat)
	}
	return &Compiled{pattern: pat, priority: priority, re: re}, nil
}

// Pattern returns the literal the matcher was compiled from.
func (c *Compiled) Pattern() string { return c.pattern }

// Priority returns the matcher's priority.
func (c *Compiled) Priority() int { return c.priority }

// Matches reports whether the key is covered by the pattern.
func (c *Compiled) Matches(key string) bool { return c.re.MatchString(key) }

// CalculatePriority derives a priority from pattern specificity: an exact
// literal scores 100; otherwise more colon segments raise the score and
// each wildcard lowers it.
func CalculatePriority(pat string) int {
	if !strings.Contains(pat, "*") {
		return 100
	}
	segments := len(strings.Split(pat, ":"))
	wildcards := strings.Count(pat, "*")
	return segments*10 - wildcards*5
}

// FindBestMatch returns the highest-priority pattern matching the key, or
// nil when none matches.
func FindBestMatch(key string, patterns []*Compiled) *Compiled {
	var best *Compiled
	for _, p := range patterns {
		if !p.Matches(key) {
			continue
		}
		if best == nil || p.priority > best.priority ||
			(p.priority == best.priority && p.pattern < best.pattern) {
			best = p
		}
	}
	return best
}
