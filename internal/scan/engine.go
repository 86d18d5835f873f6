// Package scan compiles a pattern set once and matches messages against
// it. The same engine backs both live search (inline with the export
// stream) and offline search (replaying the store).
package scan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/histsweep/histsweep/internal/store"
)

// ExcerptContext is how many bytes around a match land in the excerpt.
const ExcerptContext = 80

// Pattern is one regex to search for. ID keys the resulting hits; when
// loaded from a file it is the raw pattern line itself.
type Pattern struct {
	ID     string
	Source string
}

// InvalidPattern reports one pattern that failed to compile.
type InvalidPattern struct {
	ID     string
	Reason string
}

func (e InvalidPattern) Error() string {
	return fmt.Sprintf("invalid pattern %q: %s", e.ID, e.Reason)
}

// CompileError collects every invalid pattern in a set.
type CompileError []InvalidPattern

func (e CompileError) Error() string {
	parts := make([]string, len(e))
	for i, p := range e {
		parts[i] = p.Error()
	}
	return strings.Join(parts, "; ")
}

// LoadPatterns reads one pattern per line, skipping blanks and lines
// starting with '#'. With ignoreCase, each pattern is compiled with a
// (?i) prefix; the ID stays the raw line.
func LoadPatterns(path string, ignoreCase bool) ([]Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open patterns file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadPatterns(f, ignoreCase)
}

// ReadPatterns parses patterns from r. See LoadPatterns.
func ReadPatterns(r io.Reader, ignoreCase bool) ([]Pattern, error) {
	var patterns []Pattern
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		source := line
		if ignoreCase {
			source = "(?i)" + source
		}
		patterns = append(patterns, Pattern{ID: line, Source: source})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read patterns: %w", err)
	}
	return patterns, nil
}

type compiled struct {
	id string
	re *regexp.Regexp
}

// Set is a compiled pattern set. Compilation produces read-only state, so
// one Set is safe to Scan from any number of goroutines.
type Set struct {
	patterns []compiled
}

// Compile compiles every pattern up front. Malformed patterns are all
// reported at once as a CompileError so a bad set fails before any
// network or storage activity starts.
func Compile(patterns []Pattern) (*Set, error) {
	set := &Set{}
	var bad CompileError
	for _, p := range patterns {
		re, err := regexp.Compile(p.Source)
		if err != nil {
			bad = append(bad, InvalidPattern{ID: p.ID, Reason: err.Error()})
			continue
		}
		set.patterns = append(set.patterns, compiled{id: p.ID, re: re})
	}
	if len(bad) > 0 {
		return nil, bad
	}
	return set, nil
}

// Len returns the number of compiled patterns.
func (s *Set) Len() int {
	return len(s.patterns)
}

// Scan matches one message against every pattern and returns the hits,
// possibly none. Pure: no state is touched, concurrent calls are safe.
func (s *Set) Scan(m store.Message) []store.MatchHit {
	var hits []store.MatchHit
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(m.Text, -1) {
			hit := store.MatchHit{
				PatternID: p.id,
				Account:   m.Account,
				SessionID: m.SessionID,
				MessageID: m.ID,
				Start:     loc[0],
				End:       loc[1],
				Excerpt:   excerpt(m.Text, loc[0], loc[1]),
			}
			// loc pairs beyond the first are capture groups.
			for g := 2; g < len(loc); g += 2 {
				if loc[g] < 0 {
					hit.Groups = append(hit.Groups, "")
					continue
				}
				hit.Groups = append(hit.Groups, m.Text[loc[g]:loc[g+1]])
			}
			hits = append(hits, hit)
		}
	}
	return hits
}

func excerpt(text string, start, end int) string {
	lo := start - ExcerptContext
	if lo < 0 {
		lo = 0
	}
	hi := end + ExcerptContext
	if hi > len(text) {
		hi = len(text)
	}
	// The context window is in bytes; nudge both cuts onto rune
	// boundaries so the excerpt stays valid UTF-8.
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.ReplaceAll(text[lo:hi], "\n", " ")
}
