package autofilter

import (
	"sync"

	"github.com/DuyNguyen1879/autofilter/data"
	"github.com/emirpasic/gods/maps/treemap"
)

// FlushWindow is a rolling window of recent flush summaries, keyed by the
// minute they cover. The status API reads it while the daemon loop writes
// it, hence the lock.
type FlushWindow struct {
	data       *treemap.Map
	maxMinutes int
	mutex      sync.RWMutex
}

// NewFlushWindow creates a window that keeps the last maxMinutes summaries.
func NewFlushWindow(maxMinutes int) *FlushWindow {
	return &FlushWindow{
		data:       treemap.NewWithStringComparator(),
		maxMinutes: maxMinutes,
	}
}

// Add records the summary of one flush and drops the oldest minutes beyond
// the window size.
func (fw *FlushWindow) Add(stats data.FlushStats) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	fw.data.Put(stats.Minute, stats)

	for fw.data.Size() > fw.maxMinutes {
		oldest, _ := fw.data.Min()
		fw.data.Remove(oldest)
	}
}

// Summaries returns the retained flush summaries in minute order.
func (fw *FlushWindow) Summaries() []data.FlushStats {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	summaries := make([]data.FlushStats, 0, fw.data.Size())

	iter := fw.data.Iterator()
	for iter.Next() {
		summaries = append(summaries, iter.Value().(data.FlushStats))
	}

	return summaries
}

// Size returns how many minutes the window currently holds.
func (fw *FlushWindow) Size() int {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()

	return fw.data.Size()
}
