package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/histsweep/histsweep/internal/scan"
	"github.com/histsweep/histsweep/internal/store"
)

// Sink consumes the record stream of the account workers. Implementations
// must be safe for concurrent calls from multiple workers.
type Sink interface {
	Session(ctx context.Context, s store.Session) error
	Message(ctx context.Context, m store.Message) error
}

// StoreSink persists records through the storage layer.
type StoreSink struct {
	Store store.Store
}

func (s *StoreSink) Session(ctx context.Context, sess store.Session) error {
	return s.Store.PutSession(ctx, sess)
}

func (s *StoreSink) Message(ctx context.Context, m store.Message) error {
	return s.Store.PutMessage(ctx, m)
}

// ScanSink taps the message stream for live search. Every message is run
// through the compiled set synchronously; hits are persisted and handed
// to OnHit. The same engine serves the offline sweep, so live and offline
// runs over the same data produce the same hits.
type ScanSink struct {
	Set *scan.Set
	// Store receives each hit; nil when the run has no database.
	Store store.Store
	// OnHit is invoked per hit; may be nil.
	OnHit func(store.MatchHit)

	hits atomic.Int64
}

func (s *ScanSink) Session(ctx context.Context, sess store.Session) error {
	return nil
}

func (s *ScanSink) Message(ctx context.Context, m store.Message) error {
	for _, hit := range s.Set.Scan(m) {
		if s.Store != nil {
			if err := s.Store.PutMatch(ctx, hit); err != nil {
				return err
			}
		}
		s.hits.Add(1)
		if s.OnHit != nil {
			s.OnHit(hit)
		}
	}
	return nil
}

// Hits returns the number of hits found so far.
func (s *ScanSink) Hits() int64 {
	return s.hits.Load()
}
