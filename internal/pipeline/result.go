package pipeline

import (
	"fmt"

	"github.com/histsweep/histsweep/internal/creds"
)

// Outcome is the terminal state of one credential's job.
type Outcome int

const (
	// OutcomeSuccess: authenticated and exported (possibly with individual
	// record write failures, counted separately).
	OutcomeSuccess Outcome = iota
	// OutcomeAuthFailure: the service rejected the credential. Never retried.
	OutcomeAuthFailure
	// OutcomeTransientFailure: the retry budget ran out, or cancellation
	// interrupted the account mid-flight. Safe to resubmit in a later run.
	OutcomeTransientFailure
	// OutcomeCancelled: the run was cancelled before this credential was
	// ever attempted.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeTransientFailure:
		return "transient_failure"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// JobResult is the single terminal outcome of one credential. The pool
// emits exactly one per input credential.
type JobResult struct {
	Credential creds.Credential
	Outcome    Outcome
	Reason     string
	// Attempts counts remote call attempts made for the account.
	Attempts int
	// Sessions and Messages count records emitted to the sinks.
	Sessions int
	Messages int
	// FailedSessions counts sessions abandoned after the retry budget.
	FailedSessions int
	// StorageErrors counts individual records whose sink write failed.
	StorageErrors int
}

// Manifest summarizes a completed run.
type Manifest struct {
	Results []JobResult

	Succeeded    int
	AuthFailed   int
	Transient    int
	Cancelled    int
	Sessions     int
	Messages     int
	StorageError int
}

func (m *Manifest) add(r JobResult) {
	m.Results = append(m.Results, r)
	switch r.Outcome {
	case OutcomeSuccess:
		m.Succeeded++
	case OutcomeAuthFailure:
		m.AuthFailed++
	case OutcomeTransientFailure:
		m.Transient++
	case OutcomeCancelled:
		m.Cancelled++
	}
	m.Sessions += r.Sessions
	m.Messages += r.Messages
	m.StorageError += r.StorageErrors
}

func (m *Manifest) Summary() string {
	return fmt.Sprintf("accounts=%d success=%d auth_failed=%d transient=%d cancelled=%d sessions=%d messages=%d",
		len(m.Results), m.Succeeded, m.AuthFailed, m.Transient, m.Cancelled, m.Sessions, m.Messages)
}
