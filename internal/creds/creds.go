// Package creds parses account credential files. Several textual layouts
// are accepted; each line is tried against the known layouts in order and
// lines matching none are reported, not fatal.
package creds

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Credential is one account to process. Endpoint is empty when the line
// did not carry a per-account endpoint; the configured base URL applies.
type Credential struct {
	Endpoint   string
	Identifier string
	Secret     string
}

// MalformedCredential reports one input line that matched no layout.
type MalformedCredential struct {
	Line int
	Raw  string
}

func (e MalformedCredential) Error() string {
	return fmt.Sprintf("malformed credential on line %d: %q", e.Line, e.Raw)
}

// ParseFile reads credentials from path. See Parse.
func ParseFile(path string) ([]Credential, []MalformedCredential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads one credential per line. Blank lines and '#' comments are
// skipped. Accepted layouts, tried in order:
//
//	endpoint:identifier:secret   (endpoint may itself contain colons, e.g. a URL)
//	identifier:secret
//
// Lines with fewer than two usable fields are collected as malformed and
// skipped; they never abort the batch.
func Parse(r io.Reader) ([]Credential, []MalformedCredential, error) {
	var (
		credentials []Credential
		malformed   []MalformedCredential
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		cred, ok := parseLine(raw)
		if !ok {
			malformed = append(malformed, MalformedCredential{Line: lineNo, Raw: raw})
			continue
		}
		credentials = append(credentials, cred)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	return credentials, malformed, nil
}

func parseLine(raw string) (Credential, bool) {
	parts := splitFields(raw)
	switch {
	case len(parts) == 2:
		return Credential{Identifier: parts[0], Secret: parts[1]}, true
	case len(parts) > 2:
		// Identifier and secret are the last two fields; whatever precedes
		// them is the endpoint (which may contain colons itself).
		n := len(parts)
		return Credential{
			Endpoint:   strings.Join(parts[:n-2], ":"),
			Identifier: parts[n-2],
			Secret:     parts[n-1],
		}, true
	default:
		return Credential{}, false
	}
}

// splitFields splits on ':' and drops empty fields, so "user::pass" and
// trailing colons still parse.
func splitFields(raw string) []string {
	var fields []string
	for _, p := range strings.Split(raw, ":") {
		p = strings.TrimSpace(p)
		if p != "" {
			fields = append(fields, p)
		}
	}
	return fields
}
