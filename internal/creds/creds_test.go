package creds

import (
	"strings"
	"testing"
)

func TestParse_PlainPair(t *testing.T) {
	credentials, malformed, err := Parse(strings.NewReader("alice@example.com:hunter2\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed lines: %v", malformed)
	}
	if len(credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(credentials))
	}
	c := credentials[0]
	if c.Identifier != "alice@example.com" || c.Secret != "hunter2" || c.Endpoint != "" {
		t.Errorf("unexpected credential: %+v", c)
	}
}

func TestParse_EndpointPrefix(t *testing.T) {
	credentials, _, err := Parse(strings.NewReader("https://chat.example.com:bob:pass123\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(credentials))
	}
	c := credentials[0]
	if c.Endpoint != "https://chat.example.com" {
		t.Errorf("expected endpoint 'https://chat.example.com', got %q", c.Endpoint)
	}
	if c.Identifier != "bob" || c.Secret != "pass123" {
		t.Errorf("unexpected identifier/secret: %+v", c)
	}
}

func TestParse_EndpointWithPort(t *testing.T) {
	credentials, _, err := Parse(strings.NewReader("https://chat.example.com:8443:bob:pass123\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := credentials[0]
	if c.Endpoint != "https://chat.example.com:8443" {
		t.Errorf("expected endpoint with port, got %q", c.Endpoint)
	}
	if c.Identifier != "bob" || c.Secret != "pass123" {
		t.Errorf("unexpected identifier/secret: %+v", c)
	}
}

func TestParse_SkipsBlanksAndComments(t *testing.T) {
	input := "# accounts\n\nalice:a1\n   \nbob:b2\n"
	credentials, malformed, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(malformed) != 0 {
		t.Fatalf("unexpected malformed lines: %v", malformed)
	}
	if len(credentials) != 2 {
		t.Errorf("expected 2 credentials, got %d", len(credentials))
	}
}

func TestParse_MalformedLinesDoNotAbort(t *testing.T) {
	input := "alice:a1\njust-one-field\nbob:b2\n:::\n"
	credentials, malformed, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(credentials) != 2 {
		t.Errorf("expected 2 credentials, got %d", len(credentials))
	}
	if len(malformed) != 2 {
		t.Fatalf("expected 2 malformed lines, got %d", len(malformed))
	}
	if malformed[0].Line != 2 || malformed[1].Line != 4 {
		t.Errorf("unexpected malformed line numbers: %+v", malformed)
	}
}

func TestParse_EmptyFieldsDropped(t *testing.T) {
	credentials, _, err := Parse(strings.NewReader("alice::a1:\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(credentials) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(credentials))
	}
	if credentials[0].Identifier != "alice" || credentials[0].Secret != "a1" {
		t.Errorf("unexpected credential: %+v", credentials[0])
	}
}
