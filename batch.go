package autofilter

import (
	"github.com/DuyNguyen1879/autofilter/data"
)

// Batch is the accumulated traffic of one minute bucket. The minute comes
// from the log timestamps, never from the wall clock, so replaying a log
// produces identical batches.
type Batch struct {
	Minute    string
	Load      map[string]int64
	Country   map[string]string
	UserAgent map[string]string
}

// FlushFunc consumes a completed batch. It runs before the batcher starts
// accumulating the next minute.
type FlushFunc func(b *Batch)

// Batcher groups incoming lines into minute buckets and hands every
// completed bucket to its flush function.
type Batcher struct {
	current *Batch
	flush   FlushFunc
}

// NewBatcher creates a Batcher that calls flush whenever the minute prefix
// of the incoming timestamps changes.
func NewBatcher(flush FlushFunc) *Batcher {
	return &Batcher{
		current: newBatch(""),
		flush:   flush,
	}
}

// Add accumulates one weighed request. When the line belongs to a new
// minute the current batch is flushed first, then cleared.
func (b *Batcher) Add(l *data.Line, weight int64) {
	key := l.MinuteKey()

	if key != b.current.Minute {
		b.Flush()
		b.current = newBatch(key)
	}

	b.current.Load[l.IP] += weight
	b.current.Country[l.IP] = l.Country
	b.current.UserAgent[l.IP] = l.UserAgent
}

// Flush hands the current batch to the flush function if it contains any
// traffic. The batch state is replaced wholesale afterwards so a flush can
// never observe entries from two minutes.
func (b *Batcher) Flush() {
	if len(b.current.Load) == 0 {
		return
	}

	b.flush(b.current)
	b.current = newBatch(b.current.Minute)
}

// Snapshot returns a copy of the live batch for the status API.
func (b *Batcher) Snapshot() *Batch {
	snap := newBatch(b.current.Minute)
	for ip, load := range b.current.Load {
		snap.Load[ip] = load
		snap.Country[ip] = b.current.Country[ip]
		snap.UserAgent[ip] = b.current.UserAgent[ip]
	}
	return snap
}

func newBatch(minute string) *Batch {
	return &Batch{
		Minute:    minute,
		Load:      make(map[string]int64),
		Country:   make(map[string]string),
		UserAgent: make(map[string]string),
	}
}
