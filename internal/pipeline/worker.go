package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/histsweep/histsweep/internal/creds"
	"github.com/histsweep/histsweep/internal/proxy"
	"github.com/histsweep/histsweep/internal/remote"
	"github.com/histsweep/histsweep/internal/retry"
	"github.com/histsweep/histsweep/internal/store"
)

// Worker processes one credential at a time: authenticate, list the
// account's sessions, fetch each session's messages, streaming every
// record to the sinks as it arrives. A Worker is stateless across jobs
// and safe to share between pool goroutines.
type Worker struct {
	Client  remote.Client
	Proxies *proxy.Pool
	Policy  retry.Policy
	// Sinks receive every Session and Message, in order. The storage sink
	// must come before any sink that assumes the record is persisted.
	Sinks []Sink
	// CallTimeout bounds each remote call, not the whole account.
	CallTimeout time.Duration
	// RateDelay pauses between session fetches of one account.
	RateDelay time.Duration
	Logger    *logrus.Logger
}

func (w *Worker) log() *logrus.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return logrus.StandardLogger()
}

// Run executes the job for one credential and returns its terminal
// result. ctx cancellation is honored between remote calls: the call in
// flight finishes, remaining work is abandoned and reported.
func (w *Worker) Run(ctx context.Context, cred creds.Credential) JobResult {
	res := JobResult{Credential: cred}
	log := w.log().WithField("account", cred.Identifier)

	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		res.Reason = "cancelled before start"
		return res
	}

	rec := w.Proxies.Acquire()
	if rec != nil {
		log = log.WithField("proxy", rec.URL.Host)
	}

	var handle *remote.Handle
	attempts, err := w.call(ctx, log, rec, "authenticate", func(cctx context.Context) error {
		var aerr error
		handle, aerr = w.Client.Authenticate(cctx, cred, proxyURL(rec))
		return aerr
	})
	res.Attempts += attempts
	if err != nil {
		return w.failed(res, "authenticate", err)
	}
	log.Debug("authenticated")

	var sessions []store.Session
	attempts, err = w.call(ctx, log, rec, "list_sessions", func(cctx context.Context) error {
		var lerr error
		sessions, lerr = w.Client.ListSessions(cctx, handle)
		return lerr
	})
	res.Attempts += attempts
	if err != nil {
		return w.failed(res, "list_sessions", err)
	}
	log.WithField("sessions", len(sessions)).Info("listed sessions")

	for i, sess := range sessions {
		if ctx.Err() != nil {
			res.Outcome = OutcomeTransientFailure
			res.Reason = fmt.Sprintf("cancelled with %d of %d sessions remaining", len(sessions)-i, len(sessions))
			return res
		}

		w.emitSession(ctx, log, &res, sess)

		var messages []store.Message
		attempts, err := w.call(ctx, log, rec, "fetch_messages", func(cctx context.Context) error {
			var ferr error
			messages, ferr = w.Client.FetchMessages(cctx, handle, sess.ID)
			return ferr
		})
		res.Attempts += attempts
		if err != nil {
			if remote.KindOf(err) == retry.AuthInvalid {
				return w.failed(res, "fetch_messages", err)
			}
			// One exhausted session does not stop the account's others.
			res.FailedSessions++
			log.WithField("session", sess.ID).WithError(err).Warn("giving up on session")
		} else {
			for _, m := range messages {
				w.emitMessage(ctx, log, &res, m)
			}
		}

		if w.RateDelay > 0 && i < len(sessions)-1 {
			if err := retry.Sleep(ctx, w.RateDelay); err != nil {
				res.Outcome = OutcomeTransientFailure
				res.Reason = fmt.Sprintf("cancelled with %d of %d sessions remaining", len(sessions)-i-1, len(sessions))
				return res
			}
		}
	}

	if res.FailedSessions > 0 {
		res.Outcome = OutcomeTransientFailure
		res.Reason = fmt.Sprintf("%d of %d sessions failed", res.FailedSessions, len(sessions))
		return res
	}
	res.Outcome = OutcomeSuccess
	return res
}

// call runs one remote operation under the retry policy. Each attempt
// gets its own timeout detached from the run context, so cancellation
// never aborts a call mid-request; it is checked between attempts.
// The proxy outcome is reported after every attempt.
func (w *Worker) call(ctx context.Context, log *logrus.Entry, rec *proxy.Record, op string, fn func(context.Context) error) (int, error) {
	timeout := w.CallTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	for attempt := 1; ; attempt++ {
		cctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := fn(cctx)
		cancel()

		w.Proxies.Release(rec, !isProxyFault(err))
		if err == nil {
			return attempt, nil
		}

		kind := remote.KindOf(err)
		decision := w.Policy.Decide(kind, attempt, remote.HintOf(err))
		if !decision.Retry {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, err
		}

		log.WithFields(logrus.Fields{
			"op":         op,
			"attempt":    attempt,
			"error_kind": kind.String(),
			"backoff":    decision.After,
		}).Warn("retrying call")

		if serr := retry.Sleep(ctx, decision.After); serr != nil {
			return attempt, err
		}
	}
}

// isProxyFault decides whether a failed call counts against the proxy's
// health. Rejections and rate limits reached the service; transport
// failures and 5xx may well be the proxy.
func isProxyFault(err error) bool {
	if err == nil {
		return false
	}
	switch remote.KindOf(err) {
	case retry.NetworkTimeout, retry.ServerError:
		return true
	}
	return false
}

func (w *Worker) failed(res JobResult, op string, err error) JobResult {
	if remote.KindOf(err) == retry.AuthInvalid {
		res.Outcome = OutcomeAuthFailure
	} else {
		res.Outcome = OutcomeTransientFailure
	}
	res.Reason = fmt.Sprintf("%s: %v", op, err)
	return res
}

// emitSession fans a session out to every sink. A failed sink write is a
// storage failure for that record only; the account continues.
func (w *Worker) emitSession(ctx context.Context, log *logrus.Entry, res *JobResult, s store.Session) {
	ok := true
	for _, sink := range w.Sinks {
		if err := sink.Session(ctx, s); err != nil {
			ok = false
			res.StorageErrors++
			log.WithField("session", s.ID).WithError(err).Error("failed to persist session")
		}
	}
	if ok {
		res.Sessions++
	}
}

func (w *Worker) emitMessage(ctx context.Context, log *logrus.Entry, res *JobResult, m store.Message) {
	ok := true
	for _, sink := range w.Sinks {
		if err := sink.Message(ctx, m); err != nil {
			ok = false
			res.StorageErrors++
			log.WithFields(logrus.Fields{
				"session": m.SessionID,
				"message": m.ID,
			}).WithError(err).Error("failed to persist message")
		}
	}
	if ok {
		res.Messages++
	}
}

func proxyURL(rec *proxy.Record) *url.URL {
	if rec == nil {
		return nil
	}
	return rec.URL
}
