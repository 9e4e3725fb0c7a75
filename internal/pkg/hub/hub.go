package hub

import (
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	jobsmodel "github.com/grabwell/grabwell/internal/model/jobs"
)

const (
	defaultBufferSize          = 512
	defaultSubscriberQueueSize = 64
)

// Config represents the hub constants configuration.
type Config struct {
	// BufferSize is the per-job replay ring capacity.
	BufferSize int
	// SubscriberQueueSize bounds the per-subscriber delivery queue. A
	// subscriber that falls behind beyond this bound is disconnected
	// rather than stalling the publisher.
	SubscriberQueueSize int
}

// Hub maintains a bounded, append-only event log per job and fans out new
// events to live subscribers. Sequence numbers are assigned here at append
// time and are the ordering authority for a job's stream.
type Hub struct {
	cfg *Config

	mu   sync.RWMutex
	jobs map[string]*jobLog
}

// jobLog is the per-job ring buffer and subscriber set. Its mutex is
// independent of both the hub map lock and the job record lock so that
// slow subscribers cannot stall job execution.
type jobLog struct {
	mu       sync.Mutex
	events   []jobsmodel.JobEvent
	firstSeq uint64
	nextSeq  uint64
	closed   bool
	subs     map[*Subscription]struct{}
}

// Subscription is one observer of a job's event stream.
type Subscription struct {
	jl        *jobLog
	queue     chan jobsmodel.JobEvent
	events    chan jobsmodel.JobEvent
	done      chan struct{}
	queueOnce sync.Once
	doneOnce  sync.Once
	err       error
}

// Events returns the channel delivering the subscription's events. It is
// closed after the job's terminal event has been delivered, after
// Unsubscribe, or after the subscriber was dropped for falling behind.
func (s *Subscription) Events() <-chan jobsmodel.JobEvent {
	return s.events
}

// Err reports why the subscription ended. It must only be read after the
// Events channel is closed; nil means a normal end of stream.
func (s *Subscription) Err() error {
	return s.err
}

// Unsubscribe detaches the subscription without affecting other
// subscribers or the stored log.
func (s *Subscription) Unsubscribe() {
	s.jl.unsubscribe(s)
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// closeQueue closes the inbound queue at most once. Callers must hold the
// jobLog mutex (or hold the only remaining reference) so no publish can
// race the close.
func (s *Subscription) closeQueue() {
	s.queueOnce.Do(func() {
		close(s.queue)
	})
}

// New creates a new Hub.
func New(cfg *Config) *Hub {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.SubscriberQueueSize <= 0 {
		cfg.SubscriberQueueSize = defaultSubscriberQueueSize
	}

	return &Hub{
		cfg:  cfg,
		jobs: make(map[string]*jobLog),
	}
}

// Register creates the event log for a job. It must be called once, before
// any publish or subscribe for that job.
func (h *Hub) Register(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.jobs[jobID]; ok {
		return
	}
	h.jobs[jobID] = &jobLog{
		subs: make(map[*Subscription]struct{}),
	}
}

// Remove drops a job's event log and disconnects its remaining subscribers.
func (h *Hub) Remove(jobID string) {
	h.mu.Lock()
	jl, ok := h.jobs[jobID]
	delete(h.jobs, jobID)
	h.mu.Unlock()

	if !ok {
		return
	}

	jl.mu.Lock()
	defer jl.mu.Unlock()
	for sub := range jl.subs {
		delete(jl.subs, sub)
		sub.closeQueue()
	}
}

// get returns the jobLog for the job, or a NotFound error.
func (h *Hub) get(jobID string) (*jobLog, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	jl, ok := h.jobs[jobID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "job not found: %s", jobID)
	}
	return jl, nil
}

// Publish appends an event to the job's log, assigns its sequence number
// and timestamp, and delivers it to live subscribers. Subscribers whose
// queue is full are dropped, never waited on. Publishing after a terminal
// event is an internal consistency error. The stamped event is returned
// so callers fanning it out elsewhere carry the identical payload.
func (h *Hub) Publish(jobID string, event jobsmodel.JobEvent) (jobsmodel.JobEvent, error) {
	jl, err := h.get(jobID)
	if err != nil {
		return jobsmodel.JobEvent{}, err
	}

	jl.mu.Lock()
	defer jl.mu.Unlock()

	if jl.closed {
		return jobsmodel.JobEvent{}, status.Errorf(codes.Internal, "publish after terminal event for job %s", jobID)
	}

	event.JobID = jobID
	event.SequenceNum = jl.nextSeq
	event.Timestamp = time.Now()
	jl.nextSeq++

	// Evict the oldest events once the ring is full. The terminal event is
	// always the newest, so it is never evicted.
	jl.events = append(jl.events, event)
	if len(jl.events) > h.cfg.BufferSize {
		evict := len(jl.events) - h.cfg.BufferSize
		jl.events = jl.events[evict:]
		jl.firstSeq += uint64(evict)
	}

	if event.Terminal {
		jl.closed = true
	}

	for sub := range jl.subs {
		select {
		case sub.queue <- event:
		default:
			// Backpressure policy: drop the slow consumer, not the producer.
			delete(jl.subs, sub)
			sub.err = status.Error(codes.ResourceExhausted, "subscriber too slow")
			sub.closeQueue()
		}
	}

	if event.Terminal {
		for sub := range jl.subs {
			delete(jl.subs, sub)
			sub.closeQueue()
		}
	}

	return event, nil
}

// SeqRange returns the first retained and next sequence numbers of a job's
// log.
func (h *Hub) SeqRange(jobID string) (first, next uint64, err error) {
	jl, err := h.get(jobID)
	if err != nil {
		return 0, 0, err
	}

	jl.mu.Lock()
	defer jl.mu.Unlock()
	return jl.firstSeq, jl.nextSeq, nil
}

// Subscribe attaches an observer to a job's stream. All events with
// sequence number >= from are delivered: retained history is replayed
// first, then live events as they are published. If from precedes the
// retained window a gap marker event is delivered before the earliest
// retained event so the subscriber can resynchronize from a snapshot.
func (h *Hub) Subscribe(jobID string, from uint64) (*Subscription, error) {
	jl, err := h.get(jobID)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		jl:     jl,
		queue:  make(chan jobsmodel.JobEvent, h.cfg.SubscriberQueueSize),
		events: make(chan jobsmodel.JobEvent),
		done:   make(chan struct{}),
	}

	jl.mu.Lock()

	var replay []jobsmodel.JobEvent
	gap := from < jl.firstSeq && len(jl.events) > 0
	for _, ev := range jl.events {
		if ev.SequenceNum >= from {
			replay = append(replay, ev)
		}
	}

	closed := jl.closed
	if !closed {
		jl.subs[sub] = struct{}{}
	}
	jl.mu.Unlock()

	go sub.run(jobID, from, gap, replay, closed)

	return sub, nil
}

// run replays buffered history and then forwards live events, deduplicating
// by sequence number across the replay/live boundary.
func (s *Subscription) run(jobID string, from uint64, gap bool, replay []jobsmodel.JobEvent, closed bool) {
	defer close(s.events)

	delivered := false
	var lastSeq uint64

	if gap {
		marker := jobsmodel.JobEvent{
			JobID:       jobID,
			SequenceNum: from,
			Timestamp:   time.Now(),
			Kind:        jobsmodel.EventKindGap,
		}
		if !s.send(marker) {
			return
		}
	}

	for _, ev := range replay {
		if !s.send(ev) {
			return
		}
		lastSeq = ev.SequenceNum
		delivered = true
		if ev.Terminal {
			return
		}
	}

	if closed {
		// The job was already terminal and its terminal event was either
		// replayed above or lies before the requested offset.
		return
	}

	for ev := range s.queue {
		if delivered && ev.SequenceNum <= lastSeq {
			continue
		}
		// The requested offset is a floor for live events too, not only for
		// the replayed history. Terminal events below it still end the
		// stream, just without being delivered.
		if ev.SequenceNum >= from {
			if !s.send(ev) {
				return
			}
			lastSeq = ev.SequenceNum
			delivered = true
		}
		if ev.Terminal {
			s.jl.unsubscribe(s)
			return
		}
	}
}

// send delivers one event to the consumer, giving up if the subscription
// was canceled.
func (s *Subscription) send(ev jobsmodel.JobEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// unsubscribe removes the subscription from the live set.
func (jl *jobLog) unsubscribe(s *Subscription) {
	jl.mu.Lock()
	defer jl.mu.Unlock()
	delete(jl.subs, s)
	s.closeQueue()
}
