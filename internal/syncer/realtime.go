package syncer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tripsync/internal/domain"
	"tripsync/internal/merge"
	"tripsync/internal/remote"

	"github.com/google/uuid"
)

// Subscription is one realtime stream. Stop is safe to call more than once
// and from any goroutine.
type Subscription struct {
	ID string

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	ready    chan struct{}
	readyOne sync.Once
	stopOnce sync.Once
	revoked  atomic.Bool
	handlers sync.WaitGroup

	mu         sync.Mutex
	processing bool
	rerun      bool
}

func newSubscription(ctx context.Context) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		ID:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
}

// Done is closed once the stream and every in-flight apply have finished.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

func (sub *Subscription) Stop() {
	sub.stopOnce.Do(sub.cancel)
}

// Revoked reports whether the server withdrew our credentials.
func (sub *Subscription) Revoked() bool { return sub.revoked.Load() }

func (sub *Subscription) markReady() {
	sub.readyOne.Do(func() { close(sub.ready) })
}

// StartRealtimeSync subscribes to remote changes, replacing any earlier
// subscription. It waits for the first server event; when none arrives in
// time the stream is abandoned and local work continues unsynced.
// onUpdate, if set, receives the merged document after each remote change
// and must not block on the subscription itself.
func (s *Service) StartRealtimeSync(ctx context.Context, onUpdate func(*domain.TripDocument)) (*Subscription, Result) {
	c := s.current()
	if c == nil {
		return nil, fail(errNotConfigured.Error())
	}
	if c.watcher == nil || c.docs == nil {
		return nil, fail("realtime sync is not supported by " + c.name)
	}

	s.mu.Lock()
	prior := s.sub
	s.sub = nil
	s.mu.Unlock()
	s.StopRealtimeSync(prior)

	sub := newSubscription(context.WithoutCancel(ctx))
	go s.watch(sub, c, onUpdate)

	timer := time.NewTimer(s.opts.RealtimeTimeout)
	defer timer.Stop()
	select {
	case <-sub.ready:
	case <-sub.done:
		select {
		case <-sub.ready:
		default:
			return nil, s.report("realtime", fail("realtime stream closed before it started"))
		}
	case <-timer.C:
		sub.Stop()
		return nil, s.report("realtime", fail("realtime sync did not respond in time, working offline"))
	}

	s.mu.Lock()
	s.sub = sub
	s.auto = true
	s.mu.Unlock()
	return sub, s.report("realtime", ok("realtime sync started"))
}

// StopRealtimeSync ends sub. A nil sub is ignored.
func (s *Service) StopRealtimeSync(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Stop()
	s.mu.Lock()
	if s.sub == sub {
		s.sub = nil
	}
	s.mu.Unlock()
}

// Subscribed reports whether a realtime subscription is live.
func (s *Service) Subscribed() bool {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return false
	}
	select {
	case <-sub.done:
		return false
	default:
		return true
	}
}

// watch keeps the stream open, reconnecting with backoff, until the
// subscription stops or the server revokes access.
func (s *Service) watch(sub *Subscription, c *conn, onUpdate func(*domain.TripDocument)) {
	defer close(sub.done)
	defer sub.handlers.Wait()

	retryer := s.opts.Retryer
	attempt := 0
	var received atomic.Bool
	for {
		err := c.watcher.Watch(sub.ctx, func(ev remote.Event) {
			received.Store(true)
			s.onRemoteEvent(sub, c, ev, onUpdate)
		})
		if received.Swap(false) {
			attempt = 0
			retryer.Reset()
		}
		if sub.ctx.Err() != nil {
			return
		}
		if sub.Revoked() {
			s.report("realtime", fail("remote revoked access, realtime sync stopped"))
			sub.Stop()
			return
		}

		delay, again := retryer.NextDelay(attempt, err)
		if !again {
			s.report("realtime", failErr("realtime stream", err))
			return
		}
		attempt++
		s.log.Warn().Err(err).Dur("retry_in", delay).Msg("realtime stream dropped, reconnecting")

		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Service) onRemoteEvent(sub *Subscription, c *conn, ev remote.Event, onUpdate func(*domain.TripDocument)) {
	sub.markReady()
	switch ev.Kind {
	case remote.EventRevoke:
		sub.revoked.Store(true)
		return
	case remote.EventCancel:
		return
	}

	sub.mu.Lock()
	if sub.processing {
		sub.rerun = true
		sub.mu.Unlock()
		return
	}
	sub.processing = true
	sub.mu.Unlock()

	sub.handlers.Add(1)
	go func() {
		defer sub.handlers.Done()
		next := &ev
		for {
			s.applyRemote(sub, c, next, onUpdate)

			sub.mu.Lock()
			if !sub.rerun || sub.ctx.Err() != nil {
				sub.processing, sub.rerun = false, false
				sub.mu.Unlock()
				return
			}
			sub.rerun = false
			sub.mu.Unlock()
			// Pushes that arrived meanwhile are coalesced into one fetch.
			next = nil
		}
	}()
}

func (s *Service) applyRemote(sub *Subscription, c *conn, ev *remote.Event, onUpdate func(*domain.TripDocument)) {
	ctx := sub.ctx

	var incoming *domain.TripDocument
	var err error
	if ev != nil && ev.Kind == remote.EventPut && (ev.Path == "/" || ev.Path == "") {
		if isNull(ev.Data) {
			// Nothing remote yet; seed it with what we have.
			if s.store.Document() != nil {
				s.Upload(ctx)
			}
			return
		}
		incoming, err = remote.Decode(ev.Data)
	} else if incoming, err = c.docs.Fetch(ctx); err == nil {
		err = remote.CheckVersion(incoming)
	}
	if errors.Is(err, remote.ErrVersionMismatch) {
		s.log.Warn().Err(err).Msg("ignoring remote change")
		return
	}
	if errors.Is(err, remote.ErrNotFound) {
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			s.report("realtime", failErr("remote change", err))
		}
		return
	}

	doc, err := s.store.Apply(ctx, func(current *domain.TripDocument) (*domain.TripDocument, error) {
		return merge.Documents(current, incoming)
	})
	if err != nil {
		s.report("realtime", failErr("apply remote change", err))
		return
	}
	s.report("realtime", Result{Success: true, Message: "remote change applied", Doc: doc})
	if onUpdate != nil {
		onUpdate(doc)
	}
}

func isNull(data []byte) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}
