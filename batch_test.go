package autofilter

import (
	"testing"

	"github.com/DuyNguyen1879/autofilter/data"
)

func TestBatcherMinuteBoundary(t *testing.T) {
	flushed := make([]*Batch, 0)
	b := NewBatcher(func(batch *Batch) {
		flushed = append(flushed, batch)
	})

	// 70 requests at weight 10 in minute :00
	for i := 0; i < 70; i++ {
		b.Add(&data.Line{
			Time:      "2024-01-01T00:00:59+01:00",
			Country:   "CN",
			IP:        "10.1.2.3",
			UserAgent: "TestBot/1.0",
		}, 10)
	}

	if len(flushed) != 0 {
		t.Fatalf("no flush should happen within one minute, got %d", len(flushed))
	}

	// the first line of minute :01 triggers the flush
	b.Add(&data.Line{
		Time:      "2024-01-01T00:01:00+01:00",
		Country:   "CN",
		IP:        "10.1.2.3",
		UserAgent: "TestBot/1.0",
	}, 1)

	if len(flushed) != 1 {
		t.Fatalf("crossing the minute should flush exactly once, got %d flushes", len(flushed))
	}

	batch := flushed[0]
	if batch.Minute != "2024-01-01T00:00" {
		t.Errorf("flushed minute should be 2024-01-01T00:00 but is %q", batch.Minute)
	}
	if batch.Load["10.1.2.3"] != 700 {
		t.Errorf("load should be 700 but is %d", batch.Load["10.1.2.3"])
	}
	if batch.Country["10.1.2.3"] != "CN" {
		t.Errorf("country should be CN but is %q", batch.Country["10.1.2.3"])
	}

	// the new minute starts from scratch
	snap := b.Snapshot()
	if snap.Minute != "2024-01-01T00:01" {
		t.Errorf("current minute should be 2024-01-01T00:01 but is %q", snap.Minute)
	}
	if snap.Load["10.1.2.3"] != 1 {
		t.Errorf("load in the new minute should be 1 but is %d", snap.Load["10.1.2.3"])
	}
}

func TestBatcherEmptyFlush(t *testing.T) {
	flushes := 0
	b := NewBatcher(func(batch *Batch) {
		flushes++
	})

	// nothing accumulated, nothing to flush
	b.Flush()

	if flushes != 0 {
		t.Errorf("an empty batch should not be flushed, got %d flushes", flushes)
	}
}

func TestBatcherLastSeenWins(t *testing.T) {
	b := NewBatcher(func(batch *Batch) {})

	b.Add(&data.Line{Time: "2024-01-01T00:00:01+01:00", IP: "10.1.2.3", Country: "CN", UserAgent: "first"}, 10)
	b.Add(&data.Line{Time: "2024-01-01T00:00:02+01:00", IP: "10.1.2.3", Country: "DE", UserAgent: "second"}, 10)

	snap := b.Snapshot()
	if snap.Country["10.1.2.3"] != "DE" {
		t.Errorf("the last seen country should win, got %q", snap.Country["10.1.2.3"])
	}
	if snap.UserAgent["10.1.2.3"] != "second" {
		t.Errorf("the last seen user agent should win, got %q", snap.UserAgent["10.1.2.3"])
	}
}
