// Package remote wraps the chat service API behind a small client
// interface. The pipeline treats every call as a black box that either
// returns data or an error classified for the retry policy.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/histsweep/histsweep/internal/creds"
	"github.com/histsweep/histsweep/internal/retry"
	"github.com/histsweep/histsweep/internal/store"
)

// Handle is an authenticated account session. It is only valid with the
// client that produced it.
type Handle struct {
	Account string
	Token   string
	BaseURL string
	Proxy   *url.URL
}

// Client is the remote service surface the pipeline depends on.
type Client interface {
	// Authenticate logs the credential in through the given proxy (nil for
	// a direct connection) and returns a handle for follow-up calls.
	Authenticate(ctx context.Context, cred creds.Credential, proxy *url.URL) (*Handle, error)
	ListSessions(ctx context.Context, h *Handle) ([]store.Session, error)
	FetchMessages(ctx context.Context, h *Handle, sessionID string) ([]store.Message, error)
}

// Error is a remote call failure carrying its retry classification and,
// for rate limits, the server-requested wait.
type Error struct {
	Op   string
	Kind retry.ErrorKind
	Hint time.Duration
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the retry classification from err. Anything that is not
// a *remote.Error counts as a network timeout: transport-level failures
// (refused connections, resets, deadline expiry) all reach here undressed.
func KindOf(err error) retry.ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return retry.NetworkTimeout
}

// HintOf extracts the server wait hint from err, zero when absent.
func HintOf(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.Hint
	}
	return 0
}
