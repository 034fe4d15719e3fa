// Package gitignore implements gitignore pattern matching per
// https://git-scm.com/docs/gitignore. The indexing loader uses it so the
// index never picks up files the project itself ignores.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Matcher holds compiled gitignore rules. Safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	pattern  string
	regex    *regexp.Regexp
	negation bool // starts with !
	dirOnly  bool // ends with /
	anchored bool // contains / or starts with /
	base     string
}

func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds one pattern applying from the repository root.
func (m *Matcher) AddPattern(pattern string) {
	m.AddPatternWithBase(pattern, "")
}

// AddPatternWithBase adds a pattern that only applies under base, which is
// how nested .gitignore files scope their rules.
func (m *Matcher) AddPatternWithBase(pattern, base string) {
	// A trailing "\ " keeps the space, so detect it before trimming.
	hasEscapedTrailingSpace := strings.HasSuffix(pattern, `\ `)
	pattern = strings.TrimSpace(pattern)

	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{pattern: pattern, base: base}

	if strings.HasPrefix(pattern, `\#`) || strings.HasPrefix(pattern, `\!`) {
		pattern = strings.TrimPrefix(pattern, `\`)
		r.pattern = pattern
	} else if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = strings.TrimPrefix(pattern, "!")
	}

	if hasEscapedTrailingSpace && strings.HasSuffix(pattern, `\`) {
		pattern = strings.TrimSuffix(pattern, `\`) + " "
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + patternToRegex(pattern) + "$")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFromFile reads patterns from a gitignore file, scoped to base.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open gitignore: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPatternWithBase(scanner.Text(), base)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read gitignore: %w", err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether path should be ignored. Later rules win, so a
// negation after a match un-ignores the path.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if matchRule(path, isDir, r) {
			ignored = !r.negation
		}
	}
	return ignored
}

// matchRule checks one rule. A directory-only pattern also matches files
// inside that directory.
func matchRule(path string, isDir bool, r rule) bool {
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") && path != r.base {
			return false
		}
		if path == r.base {
			path = filepath.Base(path)
		} else {
			path = strings.TrimPrefix(path, r.base+"/")
		}
	}

	parts := strings.Split(path, "/")
	basename := parts[len(parts)-1]

	if r.anchored {
		if r.regex.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		if r.dirOnly {
			for i := range parts[:len(parts)-1] {
				if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.regex.MatchString(basename) || r.regex.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// patternToRegex converts a gitignore glob to a regular expression.
func patternToRegex(pattern string) string {
	var result strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]

		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					// **/ matches any number of leading directories
					result.WriteString("(?:.*/)?")
					i += 3
					continue
				} else if i == 0 || pattern[i-1] == '/' {
					result.WriteString(".*")
					i += 2
					continue
				}
			}
			result.WriteString("[^/]*")
			i++

		case '?':
			result.WriteString("[^/]")
			i++

		case '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				result.WriteString(pattern[i : j+1])
				i = j + 1
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '\\':
			if i+1 < len(pattern) {
				result.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				result.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}

		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			result.WriteString(regexp.QuoteMeta(string(c)))
			i++

		default:
			result.WriteString(string(c))
			i++
		}
	}

	return result.String()
}
