package logs

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
)

const (
	// defaultQueueDepth is the per-subscriber channel depth when the
	// config does not set one. A subscriber that falls this far behind
	// is dropped and must resubscribe with its last seen sequence.
	defaultQueueDepth = 256
	replayPage        = 500
)

// Fanout is the in-process log broadcast hub. Durability is the storage
// layer's job; the hub only carries the live tail. Subscribe bridges the
// two by replaying durable lines before switching to live delivery, and
// drops live duplicates by sequence so the seam never reorders or repeats.
type Fanout struct {
	storage    interfaces.JobLogStorage
	queueDepth int
	logger     arbor.ILogger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{} // jobID -> subscribers
}

type subscriber struct {
	live   chan interfaces.LogEvent
	out    chan interfaces.LogEvent
	done   chan struct{}
	cancel sync.Once
}

// NewFanout creates a new log fan-out hub. queueDepth is the buffered
// event count per subscriber; zero or negative takes the default.
func NewFanout(storage interfaces.JobLogStorage, queueDepth int, logger arbor.ILogger) *Fanout {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Fanout{
		storage:    storage,
		queueDepth: queueDepth,
		logger:     logger,
		subs:       make(map[string]map[*subscriber]struct{}),
	}
}

// Publish delivers a durably-appended line to live subscribers. A
// subscriber whose buffer is full gets dropped rather than stalling or
// skipping lines - reconnecting with the last seen sequence loses nothing.
func (f *Fanout) Publish(entry models.JobLogEntry) {
	f.deliver(entry.JobID, interfaces.LogEvent{Line: &entry})
}

// PublishStatus delivers a status change to live subscribers.
func (f *Fanout) PublishStatus(jobID string, status models.JobStatus) {
	f.deliver(jobID, interfaces.LogEvent{Status: status})
}

func (f *Fanout) deliver(jobID string, event interfaces.LogEvent) {
	f.mu.RLock()
	var overflowed []*subscriber
	for sub := range f.subs[jobID] {
		select {
		case sub.live <- event:
		case <-sub.done:
		default:
			overflowed = append(overflowed, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range overflowed {
		f.logger.Warn().
			Str("job_id", jobID).
			Msg("Dropping slow log subscriber")
		f.unsubscribe(jobID, sub)
	}
}

// Subscribe registers a subscriber for one job starting after afterSeq.
func (f *Fanout) Subscribe(jobID string, afterSeq uint64) (<-chan interfaces.LogEvent, func(), error) {
	sub := &subscriber{
		live: make(chan interfaces.LogEvent, f.queueDepth),
		out:  make(chan interfaces.LogEvent, f.queueDepth),
		done: make(chan struct{}),
	}

	// Register before replaying so nothing published during the replay is
	// missed. Anything both replayed and live-delivered is deduplicated by
	// sequence in the pump.
	f.mu.Lock()
	if f.subs[jobID] == nil {
		f.subs[jobID] = make(map[*subscriber]struct{})
	}
	f.subs[jobID][sub] = struct{}{}
	f.mu.Unlock()

	go f.pump(jobID, afterSeq, sub)

	cancel := func() {
		f.unsubscribe(jobID, sub)
	}
	return sub.out, cancel, nil
}

// pump replays durable lines past the cursor, then forwards the live tail.
func (f *Fanout) pump(jobID string, afterSeq uint64, sub *subscriber) {
	defer close(sub.out)

	cursor := afterSeq
	for {
		entries, err := f.storage.GetLogs(context.Background(), jobID, cursor, replayPage)
		if err != nil {
			f.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Msg("Log replay failed")
			f.unsubscribe(jobID, sub)
			return
		}
		if len(entries) == 0 {
			break
		}
		for i := range entries {
			entry := entries[i]
			if !f.send(sub, interfaces.LogEvent{Line: &entry}) {
				return
			}
			cursor = entry.Sequence
		}
	}

	// The marker lets a subscriber know durable history is done - after
	// this point a terminal job produces no further events
	if !f.send(sub, interfaces.LogEvent{EndOfReplay: true}) {
		return
	}

	for {
		select {
		case <-sub.done:
			return
		case event, ok := <-sub.live:
			if !ok {
				return
			}
			// Drop lines already covered by the replay
			if event.Line != nil && event.Line.Sequence <= cursor {
				continue
			}
			if event.Line != nil {
				cursor = event.Line.Sequence
			}
			if !f.send(sub, event) {
				return
			}
		}
	}
}

func (f *Fanout) send(sub *subscriber, event interfaces.LogEvent) bool {
	select {
	case sub.out <- event:
		return true
	case <-sub.done:
		return false
	}
}

func (f *Fanout) unsubscribe(jobID string, sub *subscriber) {
	sub.cancel.Do(func() {
		close(sub.done)
	})

	f.mu.Lock()
	if set, ok := f.subs[jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, jobID)
		}
	}
	f.mu.Unlock()
}
