// Package export writes per-account text-file trees alongside the
// database: one folder per account and run, one text file per session,
// plus a session index. Files land via tmp + rename so a killed run
// never leaves a partial file behind.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/histsweep/histsweep/internal/store"
)

var unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// SafeFilename strips characters that are unsafe in filenames and bounds
// the length.
func SafeFilename(text string) string {
	s := unsafeFilenameChars.ReplaceAllString(text, "_")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// Tree is a pipeline sink that writes the per-account export folders.
// Messages are buffered per session and flushed to disk when the worker
// moves on to the account's next session, so at most one session per
// account is held in memory. Close flushes whatever remains and writes
// each account's chats_index.json.
type Tree struct {
	root  string
	stamp string

	mu       sync.Mutex
	accounts map[string]*accountExport
}

type accountExport struct {
	dir      string
	sessions []store.Session
	titles   map[string]string
	pending  map[string][]store.Message
}

// NewTree creates a Tree rooted at dir. The run stamp goes into every
// account folder name so reruns never overwrite earlier exports.
func NewTree(dir string) *Tree {
	return &Tree{
		root:     dir,
		stamp:    time.Now().Format("20060102_150405"),
		accounts: make(map[string]*accountExport),
	}
}

// AccountDir returns the folder an account's files land in.
func (t *Tree) AccountDir(account string) string {
	return filepath.Join(t.root, fmt.Sprintf("%s_%s", SafeFilename(account), t.stamp))
}

// Session registers a session and flushes the account's previously
// buffered sessions. Workers emit an account's sessions sequentially, so
// a new session means the prior one has all its messages.
func (t *Tree) Session(ctx context.Context, s store.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	acct, err := t.account(s.Account)
	if err != nil {
		return err
	}
	for id := range acct.pending {
		if err := t.flushSession(acct, id); err != nil {
			return err
		}
	}
	acct.sessions = append(acct.sessions, s)
	acct.titles[s.ID] = s.Title
	acct.pending[s.ID] = nil
	return nil
}

// Message buffers one message for its session.
func (t *Tree) Message(ctx context.Context, m store.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	acct, err := t.account(m.Account)
	if err != nil {
		return err
	}
	acct.pending[m.SessionID] = append(acct.pending[m.SessionID], m)
	return nil
}

// Close flushes every buffered session and writes the per-account
// session indexes. The Tree must not be used afterwards.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, acct := range t.accounts {
		for id := range acct.pending {
			if err := t.flushSession(acct, id); err != nil {
				return err
			}
		}
		index, err := json.MarshalIndent(acct.sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode session index: %w", err)
		}
		if err := writeAtomic(filepath.Join(acct.dir, "chats_index.json"), index); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) account(name string) (*accountExport, error) {
	if acct, ok := t.accounts[name]; ok {
		return acct, nil
	}
	dir := t.AccountDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export folder: %w", err)
	}
	acct := &accountExport{
		dir:     dir,
		titles:  make(map[string]string),
		pending: make(map[string][]store.Message),
	}
	t.accounts[name] = acct
	return acct, nil
}

func (t *Tree) flushSession(acct *accountExport, sessionID string) error {
	messages := acct.pending[sessionID]
	delete(acct.pending, sessionID)

	title := acct.titles[sessionID]
	if title == "" {
		title = sessionID
	}
	name := fmt.Sprintf("%s-%s.txt", SafeFilename(sessionID), SafeFilename(title))

	var b strings.Builder
	for _, m := range messages {
		when := ""
		if !m.Timestamp.IsZero() {
			when = m.Timestamp.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(&b, "[%s] inserted_at=%s\n%s\n\n", m.Role, when, m.Text)
	}
	return writeAtomic(filepath.Join(acct.dir, name), []byte(b.String()))
}

func writeAtomic(target string, content []byte) error {
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(target), err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(target), err)
	}
	return nil
}
